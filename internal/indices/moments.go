package indices

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

func init() {
	RegisterFitter("moments", func() Fitter { return &momentsFitter{} })
	RegisterFormula("zscore", func() Formula { return &zscoreFormula{} })
}

const defaultMinSamples = 5

// momentsFitter fits the per-cell sample mean and standard deviation of the
// historical sample. The stdtype option selects the sample (n-1) or
// population (n) denominator; cells with fewer than minsamples non-void
// values come out void.
type momentsFitter struct{}

func (f *momentsFitter) Parameters() []string {
	return []string{"mean", "stddev"}
}

func (f *momentsFitter) CalcParameters(_ context.Context, _ time.Time, sample []raster.Grid, want map[string][]cases.Case) (map[string]map[int]raster.Grid, error) {
	if len(sample) == 0 {
		return nil, utils.NewValidationErrorf("moments: empty historical sample")
	}
	ncells := len(sample[0])
	for _, g := range sample {
		if len(g) != ncells {
			return nil, utils.NewValidationErrorf("moments: sample grid size mismatch: %d != %d", len(g), ncells)
		}
	}

	out := map[string]map[int]raster.Grid{}
	for par, caseList := range want {
		if par != "mean" && par != "stddev" {
			return nil, utils.NewValidationErrorf("moments: unknown parameter %q", par)
		}
		out[par] = map[int]raster.Grid{}
		for _, c := range caseList {
			grid, err := f.fitOne(par, sample, ncells, c)
			if err != nil {
				return nil, err
			}
			out[par][c.ID] = grid
		}
	}
	return out, nil
}

func (f *momentsFitter) fitOne(par string, sample []raster.Grid, ncells int, c cases.Case) (raster.Grid, error) {
	minSamples := defaultMinSamples
	if raw, ok := c.Options["minsamples"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return nil, utils.NewValidationErrorf("moments: invalid minsamples %q", raw)
		}
		minSamples = v
	}
	population := c.Options["stdtype"] == "population"

	grid := make(raster.Grid, ncells)
	for cell := 0; cell < ncells; cell++ {
		var sum float64
		var n int
		for _, g := range sample {
			if !math.IsNaN(g[cell]) {
				sum += g[cell]
				n++
			}
		}
		if n < minSamples {
			grid[cell] = math.NaN()
			continue
		}
		mean := sum / float64(n)
		if par == "mean" {
			grid[cell] = mean
			continue
		}

		var ss float64
		for _, g := range sample {
			if !math.IsNaN(g[cell]) {
				d := g[cell] - mean
				ss += d * d
			}
		}
		denom := float64(n - 1)
		if population {
			denom = float64(n)
		}
		if denom <= 0 {
			grid[cell] = math.NaN()
			continue
		}
		grid[cell] = math.Sqrt(ss / denom)
	}
	return grid, nil
}

// zscoreFormula computes the standardized anomaly (data - mean) / stddev,
// void where the spread vanishes.
type zscoreFormula struct{}

func (zf *zscoreFormula) CalcIndex(_ context.Context, _ time.Time, _ timeline.Range, data raster.Grid, params map[string]raster.Grid, c cases.Case) (raster.Grid, error) {
	mean, ok := params["mean"]
	if !ok {
		return nil, utils.NewValidationErrorf("zscore: missing mean parameter for case %q", c.Name)
	}
	stddev, ok := params["stddev"]
	if !ok {
		return nil, utils.NewValidationErrorf("zscore: missing stddev parameter for case %q", c.Name)
	}
	if len(mean) != len(data) || len(stddev) != len(data) {
		return nil, utils.NewValidationErrorf("zscore: parameter grid size mismatch for case %q", c.Name)
	}

	out := make(raster.Grid, len(data))
	for i, v := range data {
		sd := stddev[i]
		if math.IsNaN(v) || math.IsNaN(mean[i]) || math.IsNaN(sd) || sd < 1e-9 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (v - mean[i]) / sd
	}
	return out, nil
}

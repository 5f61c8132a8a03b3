package aggregation

import (
	"context"
	"strconv"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// Builder constructs an aggregation strategy from its string parameters, at
// configuration-parse time. Callables are never carried inside config
// structures; config names a kind, the builder resolves it.
type Builder func(params map[string]string) (Func, ChainFunc, error)

var builders = map[string]Builder{
	"window_mean": buildWindowMean,
	"window_sum":  buildWindowSum,
	"ewma":        buildEWMA,
}

// Build resolves an aggregation kind to its compute and chain functions.
// An unknown kind is a configuration error.
func Build(kind string, params map[string]string) (Func, ChainFunc, error) {
	b, ok := builders[kind]
	if !ok {
		return nil, nil, utils.NewValidationErrorf("unknown aggregation kind %q", kind)
	}
	return b(params)
}

func windowParams(kind string, params map[string]string) (int, string, error) {
	size, err := strconv.Atoi(params["size"])
	if err != nil || size <= 0 {
		return 0, "", utils.NewValidationErrorf("aggregation %s: invalid window size %q", kind, params["size"])
	}
	unit := params["unit"]
	if unit == "" {
		return 0, "", utils.NewValidationErrorf("aggregation %s: window unit is required", kind)
	}
	return size, unit, nil
}

func buildWindowMean(params map[string]string) (Func, ChainFunc, error) {
	size, unit, err := windowParams("window_mean", params)
	if err != nil {
		return nil, nil, err
	}
	return windowReduce(size, unit, raster.Mean), nil, nil
}

func buildWindowSum(params map[string]string) (Func, ChainFunc, error) {
	size, unit, err := windowParams("window_sum", params)
	if err != nil {
		return nil, nil, err
	}
	return windowReduce(size, unit, raster.Sum), nil, nil
}

// windowReduce reads every raw grid inside the backward window ending the
// day before t and reduces them cell-wise.
func windowReduce(size int, unit string, reduce func([]raster.Grid) (raster.Grid, error)) Func {
	return func(ctx context.Context, src Source, t time.Time) (raster.Grid, error) {
		w, err := timeline.Window(t, size, unit)
		if err != nil {
			return nil, err
		}
		times, err := src.Times(ctx, w)
		if err != nil {
			return nil, err
		}
		if len(times) == 0 {
			return nil, utils.NewValidationErrorf("no raw data in window %s..%s",
				w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
		}
		grids := make([]raster.Grid, 0, len(times))
		for _, rt := range times {
			g, err := src.Read(ctx, rt)
			if err != nil {
				return nil, err
			}
			grids = append(grids, g)
		}
		return reduce(grids)
	}
}

func buildEWMA(params map[string]string) (Func, ChainFunc, error) {
	size, unit, err := windowParams("ewma", params)
	if err != nil {
		return nil, nil, err
	}
	span, err := strconv.Atoi(params["span"])
	if err != nil || span <= 0 {
		return nil, nil, utils.NewValidationErrorf("aggregation ewma: invalid span %q", params["span"])
	}
	return windowReduce(size, unit, raster.Mean), ewmaChain(span), nil
}

// ewmaChain smooths each cell's chronological series with an exponential
// moving average. The first span-1 values have no full lookback and stay
// unsmoothed.
func ewmaChain(span int) ChainFunc {
	return func(ctx context.Context, src Source, values []raster.Grid) ([]raster.Grid, error) {
		if len(values) == 0 {
			return values, nil
		}
		out := make([]raster.Grid, len(values))
		ncells := len(values[0])
		for i, g := range values {
			if len(g) != ncells {
				return nil, utils.NewValidationErrorf("ewma chain: grid size mismatch at position %d: %d != %d", i, len(g), ncells)
			}
			out[i] = g.Clone()
		}

		ema := trend.NewEmaWithPeriod[float64](span)
		series := make([]float64, len(values))
		for c := 0; c < ncells; c++ {
			for i := range values {
				series[i] = values[i][c]
			}
			smoothed := helper.ChanToSlice(ema.Compute(helper.SliceToChan(series)))
			offset := len(series) - len(smoothed)
			for i, v := range smoothed {
				out[offset+i][c] = v
			}
		}
		return out, nil
	}
}

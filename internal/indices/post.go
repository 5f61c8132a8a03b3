package indices

import (
	"math"
	"strconv"

	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// PostFunc transforms one index grid. Post-processing chains onto the base
// index series after the index stage completes for all cases.
type PostFunc func(raster.Grid) raster.Grid

func init() {
	RegisterPost("clamp", buildClamp)
	RegisterPost("rescale", buildRescale)
}

func postFloat(kind string, params map[string]string, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, utils.NewValidationErrorf("post %s: parameter %q is required", kind, key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, utils.NewValidationErrorf("post %s: invalid %s %q", kind, key, raw)
	}
	return v, nil
}

// buildClamp clips every cell into [min, max]; void cells stay void.
func buildClamp(params map[string]string) (PostFunc, error) {
	min, err := postFloat("clamp", params, "min")
	if err != nil {
		return nil, err
	}
	max, err := postFloat("clamp", params, "max")
	if err != nil {
		return nil, err
	}
	if min > max {
		return nil, utils.NewValidationErrorf("post clamp: min %v exceeds max %v", min, max)
	}

	return func(g raster.Grid) raster.Grid {
		out := g.Clone()
		for i, v := range out {
			if math.IsNaN(v) {
				continue
			}
			out[i] = math.Min(math.Max(v, min), max)
		}
		return out
	}, nil
}

// buildRescale applies the affine transform factor*x + offset cell-wise.
func buildRescale(params map[string]string) (PostFunc, error) {
	factor, err := postFloat("rescale", params, "factor")
	if err != nil {
		return nil, err
	}
	offset, err := postFloat("rescale", params, "offset")
	if err != nil {
		return nil, err
	}

	return func(g raster.Grid) raster.Grid {
		out := g.Clone()
		for i, v := range out {
			out[i] = factor*v + offset
		}
		return out
	}, nil
}

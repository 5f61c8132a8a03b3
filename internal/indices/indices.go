// Package indices defines the extension points a concrete index supplies to
// the computation core (the parameter fitter and the index formula), the
// name registries resolving them at configuration-parse time, and the
// built-in standardized-anomaly index. The core never assumes a specific
// statistical family.
package indices

import (
	"context"
	"sync"
	"time"

	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// Fitter estimates statistical parameters from a historical sample. The
// engine assembles the sample (one grid per year of the reference period)
// and asks only for the (parameter, case) pairs still missing; fitters are
// pure math.
type Fitter interface {
	// Parameters names the parameters the fitter produces. Every name
	// needs a configured output location.
	Parameters() []string
	// CalcParameters fits the wanted parameters from the sample. want maps
	// parameter name to the option cases still needing a value; the result
	// maps parameter name to case ID to fitted grid.
	CalcParameters(ctx context.Context, t time.Time, sample []raster.Grid, want map[string][]cases.Case) (map[string]map[int]raster.Grid, error)
}

// Formula computes the index value for one timestep from the aggregated
// data grid and the fitted parameter grids.
type Formula interface {
	CalcIndex(ctx context.Context, t time.Time, ref timeline.Range, data raster.Grid, params map[string]raster.Grid, c cases.Case) (raster.Grid, error)
}

var (
	regMu     sync.RWMutex
	fitters   = map[string]func() Fitter{}
	formulas  = map[string]func() Formula{}
	postKinds = map[string]func(params map[string]string) (PostFunc, error){}
)

// RegisterFitter registers a fitter constructor under name.
func RegisterFitter(name string, build func() Fitter) {
	regMu.Lock()
	defer regMu.Unlock()
	fitters[name] = build
}

// RegisterFormula registers a formula constructor under name.
func RegisterFormula(name string, build func() Formula) {
	regMu.Lock()
	defer regMu.Unlock()
	formulas[name] = build
}

// RegisterPost registers a post-processing builder under kind.
func RegisterPost(kind string, build func(params map[string]string) (PostFunc, error)) {
	regMu.Lock()
	defer regMu.Unlock()
	postKinds[kind] = build
}

// NewFitter resolves a registered fitter. An unknown name is a
// configuration error.
func NewFitter(name string) (Fitter, error) {
	regMu.RLock()
	build, ok := fitters[name]
	regMu.RUnlock()
	if !ok {
		return nil, utils.NewValidationErrorf("unknown fitter %q", name)
	}
	return build(), nil
}

// NewFormula resolves a registered formula.
func NewFormula(name string) (Formula, error) {
	regMu.RLock()
	build, ok := formulas[name]
	regMu.RUnlock()
	if !ok {
		return nil, utils.NewValidationErrorf("unknown formula %q", name)
	}
	return build(), nil
}

// NewPost resolves a registered post-processing kind with its parameters.
func NewPost(kind string, params map[string]string) (PostFunc, error) {
	regMu.RLock()
	build, ok := postKinds[kind]
	regMu.RUnlock()
	if !ok {
		return nil, utils.NewValidationErrorf("unknown post-processing kind %q", kind)
	}
	return build(params)
}

// DefaultOptions returns the option entries a standardized-anomaly index
// assumes when the configuration does not override them.
func DefaultOptions() []cases.Option {
	return []cases.Option{
		{Key: "stdtype", Choices: []cases.Choice{{Label: "sample", Value: "sample"}}},
		{Key: "minsamples", Value: "5"},
	}
}

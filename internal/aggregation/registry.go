// Package aggregation holds the named time-aggregation strategies applied
// to raw input series before parameter and index computation. A strategy is
// a stateless per-timestep compute function, optionally paired with a chain
// function over the ordered value list; the chain's presence makes the
// aggregation order-dependent and forces continuous data fetching for the
// whole index.
package aggregation

import (
	"context"
	"time"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// Source is the raw-data capability consumed by compute functions. Store
// handles satisfy it.
type Source interface {
	Read(ctx context.Context, t time.Time) (raster.Grid, error)
	Times(ctx context.Context, r timeline.Range) ([]time.Time, error)
}

// Func computes the aggregated value for one timestep from the raw series.
type Func func(ctx context.Context, src Source, t time.Time) (raster.Grid, error)

// ChainFunc adjusts the ordered list of per-timestep aggregated values. Its
// presence on a spec marks the aggregation order-dependent.
type ChainFunc func(ctx context.Context, src Source, values []raster.Grid) ([]raster.Grid, error)

// Spec is one named aggregation binding.
type Spec struct {
	Name    string
	Compute Func
	Chain   ChainFunc
}

// Chained reports whether the aggregation is order-dependent.
func (s Spec) Chained() bool {
	return s.Chain != nil
}

// Registry stores aggregation specs in registration order.
type Registry struct {
	specs  []Spec
	byName map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]int{}}
}

// Add registers one aggregation. A nil chain is allowed; a duplicate name
// is a configuration error.
func (r *Registry) Add(name string, fn Func, chain ChainFunc) error {
	if _, dup := r.byName[name]; dup {
		return utils.NewValidationErrorf("aggregation %q registered twice", name)
	}
	if fn == nil {
		return utils.NewValidationErrorf("aggregation %q has no compute function", name)
	}
	r.byName[name] = len(r.specs)
	r.specs = append(r.specs, Spec{Name: name, Compute: fn, Chain: chain})
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Spec{}, false
	}
	return r.specs[i], true
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of registered aggregations.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Continuous reports whether any registered aggregation is order-dependent.
// When true the data-fetch window must reach back to the earliest reference
// period so chains have unbroken history.
func (r *Registry) Continuous() bool {
	for _, s := range r.specs {
		if s.Chained() {
			return true
		}
	}
	return false
}

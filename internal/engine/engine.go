// Package engine drives the four-stage computation pipeline: aggregate raw
// data, estimate statistical parameters per reference period, compute the
// index and chain post-processing. Every stage checks its gap against the
// persisted store first, so repeated runs over overlapping ranges only
// compute what is missing.
package engine

import (
	"errors"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pluvio/hydroclim-go/internal/aggregation"
	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/indices"
	"github.com/pluvio/hydroclim-go/internal/store"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// ErrRunInFlight is returned when Compute is called while another run is
// active. Concurrent runs against the same store can race on the gap
// check, so the orchestrator is single-flight per process.
var ErrRunInFlight = errors.New("engine: a run is already in flight")

// tagDate is the compact date layout used for history tags in store keys.
const tagDate = "20060102"

const paramCacheSize = 256

// ReferenceFunc resolves the historical reference period for a timestep.
type ReferenceFunc func(t time.Time) timeline.Range

// PostSpec is one named post-processing step, resolved from configuration.
type PostSpec struct {
	Name  string
	Apply indices.PostFunc
}

// Definition is the immutable parsed description of one index: what to
// compute, at which cadence, against which reference period, with which
// strategies. It is built once from configuration and never mutated.
type Definition struct {
	Name         string
	Cadence      int
	Reference    ReferenceFunc
	Options      []cases.Option
	Aggregations *aggregation.Registry
	Fitter       indices.Fitter
	Formula      indices.Formula
	Post         []PostSpec
}

// IO binds the definition to store locations. Every handle shares the raw
// handle's key template after New runs.
type IO struct {
	DataRaw    *store.Handle
	Data       *store.Handle
	Index      *store.Handle
	Parameters map[string]*store.Handle
}

// Orchestrator owns one index definition and executes compute runs over it.
type Orchestrator struct {
	def   Definition
	cases cases.Set

	raw    *store.Handle
	data   *store.Handle
	index  *store.Handle
	params map[string]*store.Handle
	post   map[string]indices.PostFunc

	workers    int
	paramCache *lru.Cache[string, raster.Grid]
	tracer     trace.Tracer
	log        *logrus.Entry
	reports    *ReportRing
	busy       atomic.Bool
}

// New validates the definition against the IO bindings and builds the
// orchestrator. All configuration errors surface here, before any I/O.
func New(def Definition, io IO, workers int) (*Orchestrator, error) {
	if def.Name == "" {
		return nil, utils.NewValidationError("index name is required")
	}
	if def.Reference == nil {
		return nil, utils.NewValidationError("reference period function is required")
	}
	if def.Fitter == nil {
		return nil, utils.NewValidationError("parameter fitter is required")
	}
	if def.Formula == nil {
		return nil, utils.NewValidationError("index formula is required")
	}
	if def.Aggregations == nil {
		def.Aggregations = aggregation.NewRegistry()
	}
	if _, err := timeline.Timesteps(time.Now(), time.Now(), def.Cadence); err != nil {
		return nil, err
	}

	postNames := make([]string, len(def.Post))
	post := make(map[string]indices.PostFunc, len(def.Post))
	for i, p := range def.Post {
		if p.Apply == nil {
			return nil, utils.NewValidationErrorf("post-processing %q has no function", p.Name)
		}
		postNames[i] = p.Name
		post[p.Name] = p.Apply
	}

	caseSet, err := cases.Expand(def.Aggregations.Names(), def.Options, postNames)
	if err != nil {
		return nil, err
	}

	if io.Index == nil {
		return nil, utils.NewValidationError("no output location for index")
	}
	if def.Aggregations.Len() > 0 {
		if io.Data == nil || io.DataRaw == nil {
			return nil, utils.NewValidationError("both data and data_raw locations must be specified when aggregation is configured")
		}
	} else {
		switch {
		case io.Data == nil && io.DataRaw == nil:
			return nil, utils.NewValidationError("either data or data_raw location must be specified")
		case io.Data == nil:
			io.Data = io.DataRaw
		case io.DataRaw == nil:
			io.DataRaw = io.Data
		}
	}

	params := make(map[string]*store.Handle, len(def.Fitter.Parameters()))
	for _, par := range def.Fitter.Parameters() {
		h, ok := io.Parameters[par]
		if !ok || h == nil {
			return nil, utils.NewValidationErrorf("no output location for parameter %q", par)
		}
		params[par] = h
	}

	// propagate the raw handle's key template so all stages agree on naming
	template := io.DataRaw.Template()
	io.Data.SetTemplate(template)
	io.Index.SetTemplate(template)
	for _, h := range params {
		h.SetTemplate(template)
	}

	if workers < 1 {
		workers = 1
	}

	indexTags := map[string]string{"index": def.Name}
	scopedParams := make(map[string]*store.Handle, len(params))
	for par, h := range params {
		scopedParams[par] = h.Update(indexTags)
	}

	cache, err := lru.New[string, raster.Grid](paramCacheSize)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		def:        def,
		cases:      caseSet,
		raw:        io.DataRaw.Update(indexTags),
		data:       io.Data.Update(indexTags),
		index:      io.Index.Update(indexTags),
		params:     scopedParams,
		post:       post,
		workers:    workers,
		paramCache: cache,
		tracer:     otel.Tracer("hydroclim/engine"),
		log:        logrus.WithField("component", "engine").WithField("index", def.Name),
		reports:    NewReportRing(32),
	}, nil
}

// Cases returns the expanded case layers.
func (o *Orchestrator) Cases() cases.Set {
	return o.cases
}

// Definition returns the parsed index definition.
func (o *Orchestrator) Definition() Definition {
	return o.def
}

// Reports returns the recent-run report ring.
func (o *Orchestrator) Reports() *ReportRing {
	return o.reports
}

// RawHandle returns the raw-data handle, used by the ingest surface.
func (o *Orchestrator) RawHandle() *store.Handle {
	return o.raw
}

// aggCases returns the aggregation cases, or the single empty case when no
// aggregation is configured.
func (o *Orchestrator) aggCases() []cases.Case {
	if len(o.cases.Agg) > 0 {
		return o.cases.Agg
	}
	return []cases.Case{{Tags: map[string]string{}}}
}

// fullCases pairs every aggregation case with every option case.
func (o *Orchestrator) fullCases() []cases.Case {
	var fulls []cases.Case
	for _, agg := range o.aggCases() {
		for _, opt := range o.cases.Opt {
			fulls = append(fulls, cases.Full(agg, opt))
		}
	}
	return fulls
}

func historyTags(ref timeline.Range) map[string]string {
	return map[string]string{
		"history_start": ref.Start.Format(tagDate),
		"history_end":   ref.End.Format(tagDate),
	}
}

package engine

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluvio/hydroclim-go/internal/aggregation"
	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/config"
	"github.com/pluvio/hydroclim-go/internal/indices"
	"github.com/pluvio/hydroclim-go/internal/store"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
)

const dateLayout = "2006-01-02"

// FromConfig resolves a configured index definition against the strategy
// registries and binds it to store locations on the given backend. Every
// unknown name or malformed entry fails here, before any I/O.
func FromConfig(cfg config.IndexConfig, backend store.Backend, workers int) (*Orchestrator, error) {
	reg := aggregation.NewRegistry()
	for _, ac := range cfg.Aggregations {
		if ac.Name == "" {
			return nil, utils.NewValidationErrorf("aggregation of kind %q has no name", ac.Kind)
		}
		fn, chain, err := aggregation.Build(ac.Kind, map[string]string{
			"size": strconv.Itoa(ac.Size),
			"unit": ac.Unit,
			"span": strconv.Itoa(ac.Span),
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Add(ac.Name, fn, chain); err != nil {
			return nil, err
		}
	}

	fitter, err := indices.NewFitter(cfg.Fitter)
	if err != nil {
		return nil, err
	}
	formula, err := indices.NewFormula(cfg.Formula)
	if err != nil {
		return nil, err
	}

	post := make([]PostSpec, 0, len(cfg.Post))
	for _, pc := range cfg.Post {
		if pc.Name == "" {
			return nil, utils.NewValidationErrorf("post-processing of kind %q has no name", pc.Kind)
		}
		apply, err := indices.NewPost(pc.Kind, map[string]string{
			"min":    strconv.FormatFloat(pc.Min, 'g', -1, 64),
			"max":    strconv.FormatFloat(pc.Max, 'g', -1, 64),
			"factor": strconv.FormatFloat(pc.Factor, 'g', -1, 64),
			"offset": strconv.FormatFloat(pc.Offset, 'g', -1, 64),
		})
		if err != nil {
			return nil, err
		}
		post = append(post, PostSpec{Name: pc.Name, Apply: apply})
	}

	options := make([]cases.Option, 0, len(cfg.Options))
	for _, oc := range cfg.Options {
		opt := cases.Option{Key: oc.Key, Value: oc.Value}
		for _, ch := range oc.Choices {
			opt.Choices = append(opt.Choices, cases.Choice{Label: ch.Label, Value: ch.Value})
		}
		options = append(options, opt)
	}
	if len(options) == 0 {
		logrus.WithField("component", "engine").
			WithField("index", cfg.Name).
			Info("No options configured, applying strategy defaults")
		options = indices.DefaultOptions()
	}

	reference, err := buildReference(cfg.Reference)
	if err != nil {
		return nil, err
	}

	io, err := buildIO(cfg.Output, backend)
	if err != nil {
		return nil, err
	}

	def := Definition{
		Name:         cfg.Name,
		Cadence:      cfg.Cadence,
		Reference:    reference,
		Options:      options,
		Aggregations: reg,
		Fitter:       fitter,
		Formula:      formula,
		Post:         post,
	}
	return New(def, io, workers)
}

// buildReference resolves the reference-period function: a fixed literal
// range, or a calendar window reaching back from each timestep.
func buildReference(rc config.ReferenceConfig) (ReferenceFunc, error) {
	switch rc.Kind {
	case "fixed":
		start, err := time.Parse(dateLayout, rc.Start)
		if err != nil {
			return nil, utils.NewValidationErrorf("reference: invalid start date %q", rc.Start)
		}
		end, err := time.Parse(dateLayout, rc.End)
		if err != nil {
			return nil, utils.NewValidationErrorf("reference: invalid end date %q", rc.End)
		}
		if end.Before(start) {
			return nil, utils.NewValidationErrorf("reference: end %s precedes start %s", rc.End, rc.Start)
		}
		fixed := timeline.NewRange(start, end)
		return func(time.Time) timeline.Range { return fixed }, nil

	case "window":
		// validate size and unit once with a sample date
		if _, err := timeline.Window(time.Date(2000, time.June, 1, 0, 0, 0, 0, time.UTC), rc.Size, rc.Unit); err != nil {
			return nil, err
		}
		size, unit := rc.Size, rc.Unit
		return func(t time.Time) timeline.Range {
			w, _ := timeline.Window(t, size, unit)
			return w
		}, nil

	default:
		return nil, utils.NewValidationErrorf("unknown reference kind %q", rc.Kind)
	}
}

func buildIO(oc config.OutputConfig, backend store.Backend) (IO, error) {
	if oc.DataRaw == "" {
		return IO{}, utils.NewValidationError("no location for raw input data")
	}
	raw := store.NewHandle(backend, oc.DataRaw)
	raw.SetTemplate(oc.Template)

	io := IO{DataRaw: raw}
	if oc.Data != "" {
		io.Data = store.NewHandle(backend, oc.Data)
	}
	if oc.Index != "" {
		io.Index = store.NewHandle(backend, oc.Index)
	}
	io.Parameters = make(map[string]*store.Handle, len(oc.Parameters))
	for name, pattern := range oc.Parameters {
		io.Parameters[name] = store.NewHandle(backend, pattern)
	}
	return io, nil
}

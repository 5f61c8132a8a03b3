package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pluvio/hydroclim-go/internal/timeline"
)

// Compute runs the full pipeline for the current period [start, end]. It
// returns the run report; the report is also kept in the ring. Per-timestep
// failures do not abort the run: they are isolated, recorded in the report
// and surfaced as one aggregate error at the end. A second Compute while
// one is active returns ErrRunInFlight.
func (o *Orchestrator) Compute(ctx context.Context, start, end time.Time) (*RunReport, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer o.busy.Store(false)

	current := timeline.NewRange(start, end)
	report := newRunReport(current)
	o.reports.Add(report)

	err := o.run(ctx, current, report)
	report.Finished = time.Now().UTC()
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	if failed := report.FailedSteps(); failed > 0 {
		err = fmt.Errorf("engine: %d computation steps failed", failed)
		report.Error = err.Error()
		return report, err
	}

	o.log.WithFields(map[string]interface{}{
		"run_id":   report.ID,
		"writes":   report.TotalWrites(),
		"duration": report.Duration().String(),
	}).Info("Run completed")
	return report, nil
}

// run executes the stages in order with a strict barrier between them: no
// stage starts before the previous one completes for all cases.
func (o *Orchestrator) run(ctx context.Context, current timeline.Range, report *RunReport) error {
	ctx, span := o.tracer.Start(ctx, "hydroclim.compute")
	defer span.End()

	cadence := o.def.Cadence
	timesteps, err := timeline.Timesteps(current.Start, current.End, cadence)
	if err != nil {
		return err
	}
	if len(timesteps) == 0 {
		o.log.Info("No timesteps in requested range, nothing to do")
		return nil
	}

	// the data cadence defaults to daily when no aggregation is configured
	dataCadence := cadence
	if o.def.Aggregations.Len() == 0 {
		dataCadence = 365
	}

	var dataTimesteps []time.Time
	err = o.stage(ctx, report, StageResolveData, func(ctx context.Context, st *stageStats) error {
		dataTimesteps, err = o.resolveDataTimesteps(timesteps, dataCadence)
		return err
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, report, StageAggregateData, func(ctx context.Context, st *stageStats) error {
		return o.aggregateData(ctx, dataTimesteps, st)
	})
	if err != nil {
		return err
	}

	var references []timeline.Range
	err = o.stage(ctx, report, StageResolveReferences, func(ctx context.Context, st *stageStats) error {
		references = o.resolveReferencePeriods(timesteps)
		return nil
	})
	if err != nil {
		return err
	}

	for _, ref := range references {
		ref := ref
		err = o.stage(ctx, report, StageParameters, func(ctx context.Context, st *stageStats) error {
			return o.computeParameters(ctx, ref, dataCadence, st)
		})
		if err != nil {
			return err
		}
	}

	err = o.stage(ctx, report, StageIndex, func(ctx context.Context, st *stageStats) error {
		return o.computeIndex(ctx, timesteps, st)
	})
	if err != nil {
		return err
	}

	return o.stage(ctx, report, StagePostProcess, func(ctx context.Context, st *stageStats) error {
		return o.postProcess(ctx, timesteps, st)
	})
}

// stage wraps one pipeline stage with a span, timing and stat collection.
// The returned error is a hard failure (store unavailable, cancellation);
// isolated per-timestep failures live in the stage stats instead.
func (o *Orchestrator) stage(ctx context.Context, report *RunReport, name string, fn func(context.Context, *stageStats) error) error {
	ctx, span := o.tracer.Start(ctx, "hydroclim.stage."+name)
	defer span.End()

	st := &stageStats{}
	started := time.Now()
	err := fn(ctx, st)
	sr := st.report(name, time.Since(started))
	if err != nil {
		sr.Errors = append(sr.Errors, err.Error())
	}
	report.Stages = append(report.Stages, sr)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return nil
}

// resolveDataTimesteps returns the timesteps the input data must cover.
// With an order-dependent aggregation configured the window is one
// contiguous range from the earliest reference start, so chains have
// unbroken history; otherwise it is the union of the reference windows and
// the current timesteps.
func (o *Orchestrator) resolveDataTimesteps(current []time.Time, cadence int) ([]time.Time, error) {
	minRefStart := o.def.Reference(current[0]).Start
	maxRefEnd := o.def.Reference(current[0]).End
	for _, t := range current[1:] {
		ref := o.def.Reference(t)
		if ref.Start.Before(minRefStart) {
			minRefStart = ref.Start
		}
		if ref.End.After(maxRefEnd) {
			maxRefEnd = ref.End
		}
	}
	latest := current[len(current)-1]

	if o.def.Aggregations.Continuous() {
		return timeline.Timesteps(minRefStart, latest, cadence)
	}

	refSteps, err := timeline.Timesteps(minRefStart, maxRefEnd, cadence)
	if err != nil {
		return nil, err
	}
	currentSteps, err := timeline.Timesteps(current[0], latest, cadence)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(refSteps)+len(currentSteps))
	var union []time.Time
	for _, t := range append(refSteps, currentSteps...) {
		if _, ok := seen[t.Unix()]; ok {
			continue
		}
		seen[t.Unix()] = struct{}{}
		union = append(union, t)
	}
	timeline.SortTimes(union)
	return union, nil
}

// resolveReferencePeriods deduplicates the reference periods across the
// requested timesteps. Parameters are computed once per distinct period.
func (o *Orchestrator) resolveReferencePeriods(timesteps []time.Time) []timeline.Range {
	seen := map[string]struct{}{}
	var refs []timeline.Range
	for _, t := range timesteps {
		ref := o.def.Reference(t)
		key := ref.Start.Format(tagDate) + "-" + ref.End.Format(tagDate)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j].Start.Before(refs[j-1].Start); j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
	return refs
}

// aggregateData computes missing aggregated values per aggregation case.
// Stateless aggregations write per timestep; chained aggregations collect
// the whole suffix in chronological order, adjust it, then write.
func (o *Orchestrator) aggregateData(ctx context.Context, timesteps []time.Time, st *stageStats) error {
	if o.def.Aggregations.Len() == 0 || len(timesteps) == 0 {
		return nil
	}
	rng := timeline.NewRange(timesteps[0], timesteps[len(timesteps)-1])

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, aggCase := range o.cases.Agg {
		aggCase := aggCase
		g.Go(func() error {
			return o.aggregateOne(ctx, aggCase, timesteps, rng, st)
		})
	}
	return g.Wait()
}

package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/gaps"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// computeIndex fills missing index values for every full case. Full cases
// share no mutable state beyond the store, so they run on the worker pool.
func (o *Orchestrator) computeIndex(ctx context.Context, timesteps []time.Time, st *stageStats) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, full := range o.fullCases() {
		full := full
		g.Go(func() error {
			return o.indexOneCase(ctx, full, timesteps, st)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) indexOneCase(ctx context.Context, full cases.Case, timesteps []time.Time, st *stageStats) error {
	idx := o.index.Update(full.Tags)
	rng := timeline.NewRange(timesteps[0], timesteps[len(timesteps)-1])
	log := o.log.WithField("case", full.Name)

	done, err := idx.Times(ctx, rng)
	if err != nil {
		return err
	}
	gap := gaps.Resolve(timesteps, done, false)
	if len(gap) == 0 {
		log.Debug("Index already calculated")
		st.skip(len(timesteps))
		return nil
	}
	log.WithFields(map[string]interface{}{
		"computed": len(timesteps) - len(gap),
		"total":    len(timesteps),
	}).Info("Calculating index")
	st.skip(len(timesteps) - len(gap))

	data := o.data.Update(full.Tags)
	for _, t := range gap {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref := o.def.Reference(t)

		value, err := data.Read(ctx, t)
		if err != nil {
			st.fail(fmt.Sprintf("index case %q at %s: read data: %v", full.Name, t.Format("2006-01-02"), err))
			continue
		}
		params, err := o.readParameters(ctx, full, ref, t)
		if err != nil {
			st.fail(fmt.Sprintf("index case %q at %s: %v", full.Name, t.Format("2006-01-02"), err))
			continue
		}
		result, err := o.def.Formula.CalcIndex(ctx, t, ref, value, params, full)
		if err != nil {
			st.fail(fmt.Sprintf("index case %q at %s: %v", full.Name, t.Format("2006-01-02"), err))
			continue
		}
		if err := idx.Write(ctx, result, t); err != nil {
			st.fail(fmt.Sprintf("index case %q write at %s: %v", full.Name, t.Format("2006-01-02"), err))
			continue
		}
		st.write()
	}
	return nil
}

// readParameters loads the fitted parameter grids scoped to the full case,
// the timestep's day-position and the resolved reference period, through a
// small LRU since neighboring timesteps usually share them.
func (o *Orchestrator) readParameters(ctx context.Context, full cases.Case, ref timeline.Range, t time.Time) (map[string]raster.Grid, error) {
	pos := timeline.DayPosition(t)
	hist := historyTags(ref)

	out := make(map[string]raster.Grid, len(o.params))
	for name, base := range o.params {
		ph := base.Update(full.Tags).Update(hist)
		key, err := ph.Key()
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		cacheKey := key + "@" + pos.Format(tagDate)

		if g, ok := o.paramCache.Get(cacheKey); ok {
			out[name] = g
			continue
		}
		g, err := ph.Read(ctx, pos)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		o.paramCache.Add(cacheKey, g)
		out[name] = g
	}
	return out, nil
}

// postProcess chains each post case onto the persisted base index series.
// It runs only after the index stage completed for all cases, so the base
// value is guaranteed present.
func (o *Orchestrator) postProcess(ctx context.Context, timesteps []time.Time, st *stageStats) error {
	if len(o.cases.Post) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, full := range o.fullCases() {
		for _, postCase := range o.cases.Post {
			full, postCase := full, postCase
			g.Go(func() error {
				return o.postProcessOne(ctx, full, postCase, timesteps, st)
			})
		}
	}
	return g.Wait()
}

func (o *Orchestrator) postProcessOne(ctx context.Context, full, postCase cases.Case, timesteps []time.Time, st *stageStats) error {
	base := o.index.Update(full.Tags)
	pp := base.Update(postCase.Tags)
	rng := timeline.NewRange(timesteps[0], timesteps[len(timesteps)-1])
	log := o.log.WithField("case", full.Name).WithField("post", postCase.Name)

	done, err := pp.Times(ctx, rng)
	if err != nil {
		return err
	}
	gap := gaps.Resolve(timesteps, done, false)
	if len(gap) == 0 {
		log.Debug("Post-processing already calculated")
		st.skip(len(timesteps))
		return nil
	}
	log.WithFields(map[string]interface{}{
		"computed": len(timesteps) - len(gap),
		"total":    len(timesteps),
	}).Info("Post-processing index")
	st.skip(len(timesteps) - len(gap))

	apply := o.post[postCase.Name]
	for _, t := range gap {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := base.Read(ctx, t)
		if err != nil {
			st.fail(fmt.Sprintf("post %s case %q at %s: read base index: %v", postCase.Name, full.Name, t.Format("2006-01-02"), err))
			continue
		}
		if err := pp.Write(ctx, apply(value), t); err != nil {
			st.fail(fmt.Sprintf("post %s case %q write at %s: %v", postCase.Name, full.Name, t.Format("2006-01-02"), err))
			continue
		}
		st.write()
	}
	return nil
}

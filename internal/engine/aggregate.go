package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/gaps"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// aggregateOne fills the gap of one aggregation case. Within one chained
// aggregation timesteps are strictly chronological and never split across
// workers; parallelism is across aggregation cases only.
func (o *Orchestrator) aggregateOne(ctx context.Context, aggCase cases.Case, timesteps []time.Time, rng timeline.Range, st *stageStats) error {
	spec, ok := o.def.Aggregations.Get(aggCase.Name)
	if !ok {
		return fmt.Errorf("aggregation %q not registered", aggCase.Name)
	}
	out := o.data.Update(aggCase.Tags)
	log := o.log.WithField("aggregation", aggCase.Name)

	available, err := out.Times(ctx, rng)
	if err != nil {
		return err
	}
	gap := gaps.Resolve(timesteps, available, spec.Chained())
	if len(gap) == 0 {
		log.Debug("Aggregated data already computed")
		st.skip(len(timesteps))
		return nil
	}
	log.WithFields(map[string]interface{}{
		"missing": len(gap),
		"total":   len(timesteps),
	}).Info("Aggregating input data")
	st.skip(len(timesteps) - len(gap))

	if !spec.Chained() {
		for _, t := range gap {
			if err := ctx.Err(); err != nil {
				return err
			}
			g, err := spec.Compute(ctx, o.raw, t)
			if err != nil {
				st.fail(fmt.Sprintf("aggregation %s at %s: %v", aggCase.Name, t.Format("2006-01-02"), err))
				continue
			}
			if err := out.Write(ctx, g, t); err != nil {
				st.fail(fmt.Sprintf("aggregation %s write at %s: %v", aggCase.Name, t.Format("2006-01-02"), err))
				continue
			}
			st.write()
		}
		return nil
	}

	// chained: a single failure breaks continuity, so the whole suffix for
	// this aggregation is abandoned (other cases are unaffected)
	values := make([]raster.Grid, 0, len(gap))
	for _, t := range gap {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, err := spec.Compute(ctx, o.raw, t)
		if err != nil {
			st.fail(fmt.Sprintf("aggregation %s chain broken at %s: %v", aggCase.Name, t.Format("2006-01-02"), err))
			return nil
		}
		values = append(values, g)
	}

	log.Debug("Completing chained aggregation")
	adjusted, err := spec.Chain(ctx, o.raw, values)
	if err != nil {
		st.fail(fmt.Sprintf("aggregation %s chain step: %v", aggCase.Name, err))
		return nil
	}
	if len(adjusted) != len(gap) {
		st.fail(fmt.Sprintf("aggregation %s chain step returned %d values for %d timesteps", aggCase.Name, len(adjusted), len(gap)))
		return nil
	}
	for i, g := range adjusted {
		if err := out.Write(ctx, g, gap[i]); err != nil {
			st.fail(fmt.Sprintf("aggregation %s write at %s: %v", aggCase.Name, gap[i].Format("2006-01-02"), err))
			continue
		}
		st.write()
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/gaps"
	"github.com/pluvio/hydroclim-go/internal/store"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// computeParameters fills missing statistical parameters for one reference
// period, per aggregation case. Parameters live on a fictitious non-leap
// year: they are statistics over day-position, not over a specific year.
func (o *Orchestrator) computeParameters(ctx context.Context, ref timeline.Range, cadence int, st *stageStats) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, aggCase := range o.aggCases() {
		aggCase := aggCase
		g.Go(func() error {
			return o.parametersOneAgg(ctx, aggCase, ref, cadence, st)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) parametersOneAgg(ctx context.Context, aggCase cases.Case, ref timeline.Range, cadence int, st *stageStats) error {
	positions, err := timeline.DayPositions(cadence)
	if err != nil {
		return err
	}
	posRange := timeline.NewRange(positions[0], positions[len(positions)-1])
	hist := historyTags(ref)
	data := o.data.Update(aggCase.Tags)

	// per (parameter, option case) gaps, grouped by day-position so the
	// historical sample is assembled once per position
	missing := map[int64]map[string][]cases.Case{}
	for parName, base := range o.params {
		ph := base.Update(aggCase.Tags).Update(hist)
		for _, optCase := range o.cases.Opt {
			done, err := ph.Update(optCase.Tags).Times(ctx, posRange)
			if err != nil {
				return err
			}
			for _, pos := range gaps.Resolve(positions, done, false) {
				key := pos.Unix()
				if missing[key] == nil {
					missing[key] = map[string][]cases.Case{}
				}
				missing[key][parName] = append(missing[key][parName], optCase)
			}
		}
	}

	// fully cached: no further store access, no log
	if len(missing) == 0 {
		st.skip(len(positions) * len(o.cases.Opt))
		return nil
	}

	o.log.WithFields(map[string]interface{}{
		"aggregation":   aggCase.Name,
		"history_start": ref.Start.Format("2006-01-02"),
		"history_end":   ref.End.Format("2006-01-02"),
		"positions":     len(missing),
	}).Info("Computing missing parameters")

	keys := make([]int64, 0, len(missing))
	for k := range missing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos := time.Unix(key, 0).UTC()

		sample, err := o.historicalSample(ctx, data, ref, pos)
		if err != nil {
			return err
		}
		if len(sample) == 0 {
			st.fail(fmt.Sprintf("parameters %s at %s: no historical sample", aggCase.Name, pos.Format("01-02")))
			continue
		}

		fitted, err := o.def.Fitter.CalcParameters(ctx, pos, sample, missing[key])
		if err != nil {
			st.fail(fmt.Sprintf("parameters %s at %s: %v", aggCase.Name, pos.Format("01-02"), err))
			continue
		}

		for parName, byCase := range fitted {
			base, ok := o.params[parName]
			if !ok {
				st.fail(fmt.Sprintf("fitter returned unknown parameter %q", parName))
				continue
			}
			ph := base.Update(aggCase.Tags).Update(hist)
			for caseID, grid := range byCase {
				if caseID < 0 || caseID >= len(o.cases.Opt) {
					st.fail(fmt.Sprintf("fitter returned unknown case id %d for parameter %q", caseID, parName))
					continue
				}
				optCase := o.cases.Opt[caseID]
				if err := ph.Update(optCase.Tags).Write(ctx, grid, pos); err != nil {
					st.fail(fmt.Sprintf("parameter %s case %d write at %s: %v", parName, caseID, pos.Format("01-02"), err))
					continue
				}
				st.write()
			}
		}
	}
	return nil
}

// historicalSample gathers one aggregated grid per year of the reference
// period sharing the day-position's month and day. Years without a
// persisted value are skipped.
func (o *Orchestrator) historicalSample(ctx context.Context, data *store.Handle, ref timeline.Range, pos time.Time) ([]raster.Grid, error) {
	var sample []raster.Grid
	for year := ref.Start.Year(); year <= ref.End.Year(); year++ {
		d := time.Date(year, pos.Month(), pos.Day(), 0, 0, 0, 0, time.UTC)
		if !ref.Contains(d) {
			continue
		}
		g, err := data.Read(ctx, d)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sample = append(sample, g)
	}
	return sample, nil
}

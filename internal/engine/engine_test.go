package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluvio/hydroclim-go/internal/aggregation"
	"github.com/pluvio/hydroclim-go/internal/cases"
	"github.com/pluvio/hydroclim-go/internal/indices"
	"github.com/pluvio/hydroclim-go/internal/store"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seedMonthlyRaw writes one two-cell grid per month start into the raw
// location. Values vary by year so the fitted spread is non-zero.
func seedMonthlyRaw(t *testing.T, backend store.Backend, from, to time.Time) {
	t.Helper()
	raw := store.NewHandle(backend, "raw")
	for d := from; !d.After(to); d = d.AddDate(0, 1, 0) {
		v := float64(d.Year()-2000) + float64(d.Month())/100
		require.NoError(t, raw.Write(context.Background(), raster.Grid{v, 2 * v}, d))
	}
}

func fixedReference(t time.Time) timeline.Range {
	return timeline.NewRange(day(2015, time.January, 1), day(2019, time.December, 31))
}

func newMonthlyOrchestrator(t *testing.T, backend store.Backend) *Orchestrator {
	t.Helper()

	reg := aggregation.NewRegistry()
	fn, chain, err := aggregation.Build("window_mean", map[string]string{"size": "1", "unit": "months"})
	require.NoError(t, err)
	require.NoError(t, reg.Add("mean1", fn, chain))

	fitter, err := indices.NewFitter("moments")
	require.NoError(t, err)
	formula, err := indices.NewFormula("zscore")
	require.NoError(t, err)
	clamp, err := indices.NewPost("clamp", map[string]string{"min": "-3", "max": "3"})
	require.NoError(t, err)

	def := Definition{
		Name:      "spi",
		Cadence:   12,
		Reference: fixedReference,
		Options: []cases.Option{
			{Key: "stdtype", Choices: []cases.Choice{
				{Label: "sample", Value: "sample"},
				{Label: "population", Value: "population"},
			}},
			{Key: "minsamples", Value: "3"},
		},
		Aggregations: reg,
		Fitter:       fitter,
		Formula:      formula,
		Post:         []PostSpec{{Name: "clamp3", Apply: clamp}},
	}
	io := IO{
		DataRaw: store.NewHandle(backend, "raw"),
		Data:    store.NewHandle(backend, "data/{agg_fn}"),
		Index:   store.NewHandle(backend, "index/{agg_fn}/{stdtype}/{post_fn}"),
		Parameters: map[string]*store.Handle{
			"mean":   store.NewHandle(backend, "parameters/mean/{agg_fn}/{stdtype}/{history_start}-{history_end}"),
			"stddev": store.NewHandle(backend, "parameters/stddev/{agg_fn}/{stdtype}/{history_start}-{history_end}"),
		},
	}

	o, err := New(def, io, 4)
	require.NoError(t, err)
	return o
}

func TestCompute_Idempotent(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedMonthlyRaw(t, backend, day(2014, time.December, 1), day(2020, time.March, 1))
	o := newMonthlyOrchestrator(t, backend)
	ctx := context.Background()

	report, err := o.Compute(ctx, day(2020, time.January, 1), day(2020, time.March, 31))
	require.NoError(t, err)
	assert.Empty(t, report.Error)
	assert.NotEmpty(t, report.ID)
	assert.False(t, report.Finished.IsZero())

	// 63 aggregated months, 12 positions x 2 parameters x 2 option cases,
	// 2 full cases x 3 index timesteps, and the same again post-processed
	assert.Equal(t, 63+48+6+6, report.TotalWrites())
	assert.Zero(t, report.FailedSteps())

	before := backend.Writes()
	again, err := o.Compute(ctx, day(2020, time.January, 1), day(2020, time.March, 31))
	require.NoError(t, err)
	assert.Zero(t, again.TotalWrites())
	assert.Equal(t, before, backend.Writes())

	// a narrower period is fully covered by the first run
	sub, err := o.Compute(ctx, day(2020, time.February, 1), day(2020, time.February, 29))
	require.NoError(t, err)
	assert.Zero(t, sub.TotalWrites())
}

func TestCompute_IndexValues(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedMonthlyRaw(t, backend, day(2014, time.December, 1), day(2020, time.March, 1))
	o := newMonthlyOrchestrator(t, backend)
	ctx := context.Background()

	_, err := o.Compute(ctx, day(2020, time.January, 1), day(2020, time.January, 31))
	require.NoError(t, err)

	idx := store.NewHandle(backend, "index/{agg_fn}/{stdtype}/{post_fn}").Update(map[string]string{
		"agg_fn": "mean1", "stdtype": "sample", "post_fn": "",
	})
	g, err := idx.Read(ctx, day(2020, time.January, 1))
	require.NoError(t, err)
	require.Len(t, g, 2)

	// the monthly window ends the day before the timestep, so each January
	// value aggregates the preceding December: 14.12 .. 18.12 across the
	// reference years, mean 16.12, sample stddev sqrt(2.5); 2020 reads 19.12
	assert.InDelta(t, (19.12-16.12)/1.5811388, g[0], 1e-4)
	assert.InDelta(t, (38.24-32.24)/3.1622777, g[1], 1e-4)

	clamped, err := idx.Update(map[string]string{"post_fn": "clamp3"}).Read(ctx, day(2020, time.January, 1))
	require.NoError(t, err)
	assert.InDelta(t, 1.8973665, clamped[0], 1e-4)
	assert.InDelta(t, 1.8973665, clamped[1], 1e-4)
}

func newChainedOrchestrator(t *testing.T, backend store.Backend) *Orchestrator {
	t.Helper()

	reg := aggregation.NewRegistry()
	fn, chain, err := aggregation.Build("ewma", map[string]string{"size": "1", "unit": "months", "span": "2"})
	require.NoError(t, err)
	require.NoError(t, reg.Add("ewma2", fn, chain))

	fitter, err := indices.NewFitter("moments")
	require.NoError(t, err)
	formula, err := indices.NewFormula("zscore")
	require.NoError(t, err)

	def := Definition{
		Name:      "spei",
		Cadence:   12,
		Reference: fixedReference,
		Options: []cases.Option{
			{Key: "stdtype", Value: "sample"},
			{Key: "minsamples", Value: "3"},
		},
		Aggregations: reg,
		Fitter:       fitter,
		Formula:      formula,
	}
	io := IO{
		DataRaw: store.NewHandle(backend, "raw"),
		Data:    store.NewHandle(backend, "data/{agg_fn}"),
		Index:   store.NewHandle(backend, "index/{agg_fn}/{post_fn}"),
		Parameters: map[string]*store.Handle{
			"mean":   store.NewHandle(backend, "parameters/mean/{agg_fn}/{history_start}-{history_end}"),
			"stddev": store.NewHandle(backend, "parameters/stddev/{agg_fn}/{history_start}-{history_end}"),
		},
	}

	o, err := New(def, io, 2)
	require.NoError(t, err)
	return o
}

func TestCompute_ChainedSuffixOnly(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedMonthlyRaw(t, backend, day(2014, time.December, 1), day(2020, time.March, 1))
	o := newChainedOrchestrator(t, backend)
	ctx := context.Background()

	first, err := o.Compute(ctx, day(2020, time.January, 1), day(2020, time.February, 28))
	require.NoError(t, err)
	// contiguous aggregation window from the reference start
	assert.Equal(t, 62+24+2, first.TotalWrites())

	second, err := o.Compute(ctx, day(2020, time.January, 1), day(2020, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalWrites())

	var agg StageReport
	for _, s := range second.Stages {
		if s.Stage == StageAggregateData {
			agg = s
		}
	}
	require.Equal(t, StageAggregateData, agg.Stage)
	assert.Equal(t, 1, agg.Writes)
	assert.Equal(t, 62, agg.Skips)
}

func TestCompute_SingleFlight(t *testing.T) {
	backend := store.NewMemoryBackend()
	o := newMonthlyOrchestrator(t, backend)

	o.busy.Store(true)
	_, err := o.Compute(context.Background(), day(2020, time.January, 1), day(2020, time.January, 31))
	assert.ErrorIs(t, err, ErrRunInFlight)
	o.busy.Store(false)
}

func TestCompute_ReportRing(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedMonthlyRaw(t, backend, day(2014, time.December, 1), day(2020, time.March, 1))
	o := newMonthlyOrchestrator(t, backend)
	ctx := context.Background()

	r1, err := o.Compute(ctx, day(2020, time.January, 1), day(2020, time.January, 31))
	require.NoError(t, err)
	r2, err := o.Compute(ctx, day(2020, time.February, 1), day(2020, time.February, 29))
	require.NoError(t, err)

	list := o.Reports().List()
	require.Len(t, list, 2)
	assert.Equal(t, r2.ID, list[0].ID)
	assert.Equal(t, r1.ID, list[1].ID)

	got, ok := o.Reports().Get(r1.ID)
	require.True(t, ok)
	assert.Equal(t, r1, got)

	_, ok = o.Reports().Get("nope")
	assert.False(t, ok)
}

func TestCompute_FailuresAreIsolated(t *testing.T) {
	backend := store.NewMemoryBackend()
	// one raw month missing inside the reference period: the 2017-02-01
	// aggregation window is empty and that step alone fails
	seedMonthlyRaw(t, backend, day(2014, time.December, 1), day(2016, time.December, 1))
	seedMonthlyRaw(t, backend, day(2017, time.February, 1), day(2020, time.March, 1))
	o := newMonthlyOrchestrator(t, backend)

	report, err := o.Compute(context.Background(), day(2020, time.January, 1), day(2020, time.January, 31))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "computation steps failed")
	assert.Equal(t, 1, report.FailedSteps())
	// every other month aggregated and the index still computed; the
	// January parameters never touch the missing February value
	assert.Greater(t, report.TotalWrites(), 0)

	idx := store.NewHandle(backend, "index/{agg_fn}/{stdtype}/{post_fn}").Update(map[string]string{
		"agg_fn": "mean1", "stdtype": "sample", "post_fn": "",
	})
	_, err = idx.Read(context.Background(), day(2020, time.January, 1))
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	backend := store.NewMemoryBackend()
	fitter, err := indices.NewFitter("moments")
	require.NoError(t, err)
	formula, err := indices.NewFormula("zscore")
	require.NoError(t, err)

	base := Definition{
		Name:      "spi",
		Cadence:   12,
		Reference: fixedReference,
		Fitter:    fitter,
		Formula:   formula,
	}
	io := IO{
		DataRaw: store.NewHandle(backend, "raw"),
		Index:   store.NewHandle(backend, "index/{post_fn}"),
		Parameters: map[string]*store.Handle{
			"mean":   store.NewHandle(backend, "parameters/mean"),
			"stddev": store.NewHandle(backend, "parameters/stddev"),
		},
	}

	_, err = New(base, io, 1)
	require.NoError(t, err)

	noName := base
	noName.Name = ""
	_, err = New(noName, io, 1)
	assert.Error(t, err)

	noFitter := base
	noFitter.Fitter = nil
	_, err = New(noFitter, io, 1)
	assert.Error(t, err)

	badCadence := base
	badCadence.Cadence = 5
	_, err = New(badCadence, io, 1)
	assert.Error(t, err)

	noIndex := io
	noIndex.Index = nil
	_, err = New(base, noIndex, 1)
	assert.Error(t, err)

	noParam := io
	noParam.Parameters = map[string]*store.Handle{"mean": store.NewHandle(backend, "parameters/mean")}
	_, err = New(base, noParam, 1)
	assert.Error(t, err)

	reg := aggregation.NewRegistry()
	fn, chain, err := aggregation.Build("window_sum", map[string]string{"size": "1", "unit": "months"})
	require.NoError(t, err)
	require.NoError(t, reg.Add("sum1", fn, chain))
	withAgg := base
	withAgg.Aggregations = reg
	_, err = New(withAgg, io, 1) // aggregation needs a distinct data location
	assert.Error(t, err)
}

package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// fakeSource serves grids from an in-memory map keyed by date.
type fakeSource struct {
	grids map[time.Time]raster.Grid
}

func (f *fakeSource) Read(_ context.Context, t time.Time) (raster.Grid, error) {
	return f.grids[t], nil
}

func (f *fakeSource) Times(_ context.Context, r timeline.Range) ([]time.Time, error) {
	var out []time.Time
	for t := range f.grids {
		if r.Contains(t) {
			out = append(out, t)
		}
	}
	timeline.SortTimes(out)
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2020, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, Source, time.Time) (raster.Grid, error) { return nil, nil }

	require.NoError(t, r.Add("mean1", fn, nil))
	require.NoError(t, r.Add("sum1", fn, nil))

	assert.Equal(t, []string{"mean1", "sum1"}, r.Names())
	assert.Equal(t, 2, r.Len())

	spec, ok := r.Get("mean1")
	require.True(t, ok)
	assert.Equal(t, "mean1", spec.Name)
	assert.False(t, spec.Chained())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, Source, time.Time) (raster.Grid, error) { return nil, nil }

	require.NoError(t, r.Add("mean1", fn, nil))
	assert.Error(t, r.Add("mean1", fn, nil))
}

func TestRegistry_NilComputeFunc(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Add("broken", nil, nil))
}

func TestRegistry_ContinuousFlag(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, Source, time.Time) (raster.Grid, error) { return nil, nil }
	chain := func(_ context.Context, _ Source, v []raster.Grid) ([]raster.Grid, error) { return v, nil }

	require.NoError(t, r.Add("stateless", fn, nil))
	assert.False(t, r.Continuous())

	require.NoError(t, r.Add("chained", fn, chain))
	assert.True(t, r.Continuous())

	spec, _ := r.Get("chained")
	assert.True(t, spec.Chained())
}

func TestBuild_UnknownKind(t *testing.T) {
	_, _, err := Build("percentile", nil)
	assert.Error(t, err)
}

func TestBuild_InvalidParams(t *testing.T) {
	_, _, err := Build("window_mean", map[string]string{"size": "0", "unit": "days"})
	assert.Error(t, err)

	_, _, err = Build("window_mean", map[string]string{"size": "3"})
	assert.Error(t, err)

	_, _, err = Build("ewma", map[string]string{"size": "1", "unit": "days", "span": "x"})
	assert.Error(t, err)
}

func TestWindowMean(t *testing.T) {
	src := &fakeSource{grids: map[time.Time]raster.Grid{
		day(1): {1, 10},
		day(2): {2, 20},
		day(3): {3, 30},
		day(4): {100, 100}, // outside the window ending the day before t
	}}

	fn, chain, err := Build("window_mean", map[string]string{"size": "3", "unit": "days"})
	require.NoError(t, err)
	assert.Nil(t, chain)

	g, err := fn(context.Background(), src, day(4))
	require.NoError(t, err)
	assert.Equal(t, raster.Grid{2, 20}, g)
}

func TestWindowSum(t *testing.T) {
	src := &fakeSource{grids: map[time.Time]raster.Grid{
		day(2): {1, 1},
		day(3): {2, 2},
	}}

	fn, _, err := Build("window_sum", map[string]string{"size": "2", "unit": "days"})
	require.NoError(t, err)

	g, err := fn(context.Background(), src, day(4))
	require.NoError(t, err)
	assert.Equal(t, raster.Grid{3, 3}, g)
}

func TestWindowMean_EmptyWindow(t *testing.T) {
	src := &fakeSource{grids: map[time.Time]raster.Grid{}}

	fn, _, err := Build("window_mean", map[string]string{"size": "2", "unit": "days"})
	require.NoError(t, err)

	_, err = fn(context.Background(), src, day(4))
	assert.Error(t, err)
}

func TestEWMAChain(t *testing.T) {
	_, chain, err := Build("ewma", map[string]string{"size": "1", "unit": "days", "span": "2"})
	require.NoError(t, err)
	require.NotNil(t, chain)

	values := []raster.Grid{{0}, {2}, {4}, {6}}
	out, err := chain(context.Background(), nil, values)
	require.NoError(t, err)
	require.Len(t, out, 4)

	// the first span-1 values stay unsmoothed
	assert.Equal(t, 0.0, out[0][0])
	// the smoothed tail lags behind the raw ramp
	assert.Less(t, out[3][0], 6.0)
	assert.Greater(t, out[3][0], out[2][0])

	// inputs are not mutated
	assert.Equal(t, raster.Grid{2}, values[1])
}

func TestEWMAChain_EmptyAndMismatch(t *testing.T) {
	_, chain, err := Build("ewma", map[string]string{"size": "1", "unit": "days", "span": "3"})
	require.NoError(t, err)

	out, err := chain(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = chain(context.Background(), nil, []raster.Grid{{1, 2}, {1}})
	assert.Error(t, err)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestHandleKeyRendering(t *testing.T) {
	h := NewHandle(NewMemoryBackend(), "index/{agg_fn}/{stdtype}/{post_fn}")
	h.SetTemplate("{index}")

	scoped := h.Update(map[string]string{
		"index":   "spi",
		"agg_fn":  "mean1",
		"stdtype": "sample",
		"post_fn": "clamp3",
	})

	key, err := scoped.Key()
	require.NoError(t, err)
	assert.Equal(t, "spi/index/mean1/sample/clamp3", key)
}

func TestHandleKey_EmptyPostFnCollapses(t *testing.T) {
	h := NewHandle(NewMemoryBackend(), "index/{agg_fn}/{post_fn}")
	scoped := h.Update(map[string]string{"agg_fn": "mean1", "post_fn": ""})

	key, err := scoped.Key()
	require.NoError(t, err)
	assert.Equal(t, "index/mean1", key)

	// post_fn may also be entirely absent from the scope
	base := h.Update(map[string]string{"agg_fn": "mean1"})
	key, err = base.Key()
	require.NoError(t, err)
	assert.Equal(t, "index/mean1", key)
}

func TestHandleKey_UnresolvedTagFails(t *testing.T) {
	h := NewHandle(NewMemoryBackend(), "par/{agg_fn}/mean")

	_, err := h.Key()
	assert.Error(t, err)
}

func TestHandleUpdate_DoesNotMutateReceiver(t *testing.T) {
	h := NewHandle(NewMemoryBackend(), "data/{agg_fn}")
	narrowed := h.Update(map[string]string{"agg_fn": "mean1"})

	assert.Empty(t, h.Tags())
	assert.Equal(t, map[string]string{"agg_fn": "mean1"}, narrowed.Tags())

	// narrowing twice from the same parent must not cross-contaminate
	other := h.Update(map[string]string{"agg_fn": "sum1"})
	assert.Equal(t, "mean1", narrowed.Tags()["agg_fn"])
	assert.Equal(t, "sum1", other.Tags()["agg_fn"])
}

func TestHandleTemplatePropagation(t *testing.T) {
	raw := NewHandle(NewMemoryBackend(), "raw")
	raw.SetTemplate("{index}")

	derived := NewHandle(NewMemoryBackend(), "data/{agg_fn}")
	derived.SetTemplate(raw.Template())
	assert.Equal(t, "{index}", derived.Template())

	// Update carries the template along
	scoped := derived.Update(map[string]string{"index": "spi", "agg_fn": "m"})
	key, err := scoped.Key()
	require.NoError(t, err)
	assert.Equal(t, "spi/data/m", key)
}

func TestHandleReadWriteTimes(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	h := NewHandle(backend, "data/{agg_fn}").Update(map[string]string{"agg_fn": "m"})

	g := raster.Grid{1, 2, 3}
	require.NoError(t, h.Write(ctx, g, date(2020, time.January, 1)))
	require.NoError(t, h.Write(ctx, raster.Grid{4, 5, 6}, date(2020, time.February, 1)))

	got, err := h.Read(ctx, date(2020, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, g, got)

	_, err = h.Read(ctx, date(2020, time.March, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	times, err := h.Times(ctx, timeline.NewRange(date(2020, time.January, 1), date(2020, time.December, 31)))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2020, time.January, 1), date(2020, time.February, 1)}, times)

	// a differently scoped handle sees nothing
	other := NewHandle(backend, "data/{agg_fn}").Update(map[string]string{"agg_fn": "other"})
	times, err = other.Times(ctx, timeline.NewRange(date(2020, time.January, 1), date(2020, time.December, 31)))
	require.NoError(t, err)
	assert.Empty(t, times)
}

func TestMemoryBackend_IdempotentOverwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	ts := date(2020, time.June, 1)

	require.NoError(t, m.Write(ctx, "k", ts, raster.Grid{1}))
	require.NoError(t, m.Write(ctx, "k", ts, raster.Grid{1}))

	times, err := m.Times(ctx, "k", date(2020, time.January, 1), date(2020, time.December, 31))
	require.NoError(t, err)
	assert.Len(t, times, 1)

	g, err := m.Read(ctx, "k", ts)
	require.NoError(t, err)
	assert.Equal(t, raster.Grid{1}, g)
	assert.Equal(t, int64(2), m.Writes())
}

func TestMemoryBackend_ReadIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	ts := date(2020, time.June, 1)

	require.NoError(t, m.Write(ctx, "k", ts, raster.Grid{1, 2}))

	g, err := m.Read(ctx, "k", ts)
	require.NoError(t, err)
	g[0] = 99

	again, err := m.Read(ctx, "k", ts)
	require.NoError(t, err)
	assert.Equal(t, raster.Grid{1, 2}, again)
}

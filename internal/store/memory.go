package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// MemoryBackend is an in-process backend for tests and single-process runs.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]map[int64]raster.Grid
	writes atomic.Int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: map[string]map[int64]raster.Grid{}}
}

// Times returns the persisted timesteps for key inside [start, end].
func (m *MemoryBackend) Times(_ context.Context, key string, start, end time.Time) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []time.Time
	for unix := range m.values[key] {
		t := time.Unix(unix, 0).UTC()
		if !t.Before(start) && !t.After(end) {
			out = append(out, t)
		}
	}
	timeline.SortTimes(out)
	return out, nil
}

// Read returns the grid stored at (key, t), or ErrNotFound.
func (m *MemoryBackend) Read(_ context.Context, key string, t time.Time) (raster.Grid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.values[key][t.Unix()]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

// Write stores g at (key, t), overwriting any previous value.
func (m *MemoryBackend) Write(_ context.Context, key string, t time.Time, g raster.Grid) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values[key] == nil {
		m.values[key] = map[int64]raster.Grid{}
	}
	m.values[key][t.Unix()] = g.Clone()
	m.writes.Add(1)
	return nil
}

// Writes returns the total number of writes performed, for idempotence
// assertions in tests.
func (m *MemoryBackend) Writes() int64 {
	return m.writes.Load()
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

// Package store implements the persisted-value capability set used by every
// pipeline stage: tag-scoped handles rendering key templates over a
// pluggable physical backend (memory, Redis or Postgres). Writes are
// idempotent overwrites; reads of absent values return ErrNotFound.
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

// ErrNotFound is returned when no value is persisted at the requested
// scope and timestep.
var ErrNotFound = errors.New("store: value not found")

// Backend is the physical store. Write must be an atomic upsert: writing
// the same (key, timestep) twice leaves the store as after one write, and a
// killed run never leaves a partially-written timestep visible.
type Backend interface {
	Times(ctx context.Context, key string, start, end time.Time) ([]time.Time, error)
	Read(ctx context.Context, key string, t time.Time) (raster.Grid, error)
	Write(ctx context.Context, key string, t time.Time, g raster.Grid) error
	Ping(ctx context.Context) error
	Close() error
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Handle is a tag-scoped view over a backend. Update returns narrowed
// copies; a handle itself is never mutated after setup, so handles can be
// shared across workers.
type Handle struct {
	backend  Backend
	pattern  string
	template string
	tags     map[string]string
}

// NewHandle builds a handle over backend with the given location pattern.
// The pattern may contain {tag} placeholders resolved against the handle's
// tags when keys are rendered.
func NewHandle(backend Backend, pattern string) *Handle {
	return &Handle{backend: backend, pattern: pattern, tags: map[string]string{}}
}

// SetTemplate sets the shared key prefix. The orchestrator propagates the
// raw-data handle's template to every derived handle at setup so all stages
// agree on naming.
func (h *Handle) SetTemplate(tpl string) {
	h.template = tpl
}

// Template returns the shared key prefix.
func (h *Handle) Template() string {
	return h.template
}

// Tags returns a copy of the handle's tag scope.
func (h *Handle) Tags() map[string]string {
	out := make(map[string]string, len(h.tags))
	for k, v := range h.tags {
		out[k] = v
	}
	return out
}

// Update returns a new handle narrowed by the additional tags. The receiver
// is not modified.
func (h *Handle) Update(tags map[string]string) *Handle {
	merged := h.Tags()
	for k, v := range tags {
		merged[k] = v
	}
	return &Handle{backend: h.backend, pattern: h.pattern, template: h.template, tags: merged}
}

// Key renders the handle's full location: the template joined with the
// pattern, placeholders substituted from the tag scope. An unresolved
// placeholder is an error, except post_fn which renders empty so the base
// index series shares the pattern of its post-processed variants.
func (h *Handle) Key() (string, error) {
	full := h.pattern
	if h.template != "" {
		full = h.template + "/" + h.pattern
	}

	var rendered strings.Builder
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(full, -1) {
		name := full[loc[2]:loc[3]]
		value, ok := h.tags[name]
		if !ok && name != "post_fn" {
			return "", utils.NewValidationErrorf("key %q: no value for tag {%s}", full, name)
		}
		rendered.WriteString(full[last:loc[0]])
		rendered.WriteString(value)
		last = loc[1]
	}
	rendered.WriteString(full[last:])

	key := rendered.String()
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return strings.Trim(key, "/"), nil
}

// Times returns the persisted timesteps inside r under the handle's scope.
func (h *Handle) Times(ctx context.Context, r timeline.Range) ([]time.Time, error) {
	key, err := h.Key()
	if err != nil {
		return nil, err
	}
	return h.backend.Times(ctx, key, r.Start, r.End)
}

// Read returns the persisted grid at t, or ErrNotFound.
func (h *Handle) Read(ctx context.Context, t time.Time) (raster.Grid, error) {
	key, err := h.Key()
	if err != nil {
		return nil, err
	}
	return h.backend.Read(ctx, key, timeline.Midnight(t))
}

// Write persists g at t, overwriting any previous value.
func (h *Handle) Write(ctx context.Context, g raster.Grid, t time.Time) error {
	key, err := h.Key()
	if err != nil {
		return err
	}
	return h.backend.Write(ctx, key, timeline.Midnight(t), g)
}

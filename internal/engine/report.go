package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pluvio/hydroclim-go/internal/timeline"
)

// Pipeline stage names, in execution order.
const (
	StageResolveData       = "resolve_data_timesteps"
	StageAggregateData     = "aggregate_data"
	StageResolveReferences = "resolve_reference_periods"
	StageParameters        = "compute_parameters"
	StageIndex             = "compute_index"
	StagePostProcess       = "post_process"
)

// StageReport summarizes one pipeline stage of a run.
type StageReport struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
	Writes   int           `json:"writes"`
	Skips    int           `json:"skips"`
	Errors   []string      `json:"errors,omitempty"`
}

// RunReport summarizes one compute invocation.
type RunReport struct {
	ID       string         `json:"id"`
	Current  timeline.Range `json:"current"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Stages   []StageReport  `json:"stages"`
	Error    string         `json:"error,omitempty"`
}

func newRunReport(current timeline.Range) *RunReport {
	return &RunReport{
		ID:      uuid.New().String(),
		Current: current,
		Started: time.Now().UTC(),
	}
}

// TotalWrites sums the writes of every stage.
func (r *RunReport) TotalWrites() int {
	total := 0
	for _, s := range r.Stages {
		total += s.Writes
	}
	return total
}

// FailedSteps sums the recorded per-timestep failures of every stage.
func (r *RunReport) FailedSteps() int {
	total := 0
	for _, s := range r.Stages {
		total += len(s.Errors)
	}
	return total
}

// Duration returns the wall-clock duration of the run.
func (r *RunReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// stageStats collects write/skip counts and isolated per-timestep failures
// from concurrent workers within one stage.
type stageStats struct {
	mu     sync.Mutex
	writes int
	skips  int
	errs   []string
}

func (s *stageStats) write() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *stageStats) skip(n int) {
	s.mu.Lock()
	s.skips += n
	s.mu.Unlock()
}

func (s *stageStats) fail(msg string) {
	s.mu.Lock()
	s.errs = append(s.errs, msg)
	s.mu.Unlock()
}

func (s *stageStats) report(stage string, d time.Duration) StageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StageReport{
		Stage:    stage,
		Duration: d,
		Writes:   s.writes,
		Skips:    s.skips,
		Errors:   append([]string(nil), s.errs...),
	}
}

// ReportRing keeps the most recent run reports for inspection over the API.
type ReportRing struct {
	mu      sync.RWMutex
	reports []*RunReport
	size    int
}

// NewReportRing returns a ring keeping the last size reports.
func NewReportRing(size int) *ReportRing {
	if size < 1 {
		size = 1
	}
	return &ReportRing{size: size}
}

// Add appends a report, evicting the oldest beyond the ring size.
func (r *ReportRing) Add(report *RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	if len(r.reports) > r.size {
		r.reports = r.reports[len(r.reports)-r.size:]
	}
}

// List returns the kept reports, newest first.
func (r *ReportRing) List() []*RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RunReport, len(r.reports))
	for i, rep := range r.reports {
		out[len(r.reports)-1-i] = rep
	}
	return out
}

// Get returns the report with the given run ID.
func (r *ReportRing) Get(id string) (*RunReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rep := range r.reports {
		if rep.ID == id {
			return rep, true
		}
	}
	return nil, false
}

// Package resources sizes the compute worker pool from the host's CPU and
// memory headroom. A configured fixed count always wins.
package resources

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

const (
	defaultMemoryGB = 8.0
	cpuBusyPercent  = 80.0
	memBusyPercent  = 85.0
)

// Optimizer samples system resources and recommends a worker count in
// [1, 2*cores].
type Optimizer struct {
	cores    int
	memoryGB float64
	log      *logrus.Entry

	// samplers are swappable for tests
	cpuPercent    func(context.Context, time.Duration, bool) ([]float64, error)
	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error)
}

// NewOptimizer builds an optimizer over the live host samplers.
func NewOptimizer() *Optimizer {
	o := &Optimizer{
		cores:         runtime.NumCPU(),
		memoryGB:      defaultMemoryGB,
		log:           logrus.WithField("component", "resources"),
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		o.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		o.log.WithError(err).Warn("Could not read memory info, using default")
	}
	return o
}

// Workers returns the worker count to use: the configured count when
// pinned, otherwise a recommendation from the current CPU and memory
// utilization clamped into [1, 2*cores].
func (o *Optimizer) Workers(ctx context.Context, configured int) int {
	if configured > 0 {
		o.log.WithField("workers", configured).Info("Using configured worker count")
		return configured
	}

	workers := o.recommend(ctx)
	o.log.WithFields(logrus.Fields{
		"workers":   workers,
		"cpu_cores": o.cores,
		"memory_gb": o.memoryGB,
	}).Info("Auto-sized worker pool")
	return workers
}

func (o *Optimizer) recommend(ctx context.Context) int {
	base := o.cores * 2

	factor := 1.0
	if o.memoryGB < 4.0 {
		factor = 0.5
	} else if o.memoryGB < 8.0 {
		factor = 0.75
	}

	if percents, err := o.cpuPercent(ctx, time.Second, false); err == nil && len(percents) > 0 {
		if percents[0] > cpuBusyPercent {
			factor *= 0.7
		}
	} else if err != nil {
		o.log.WithError(err).Debug("CPU sample failed, ignoring load factor")
	}

	if memInfo, err := o.virtualMemory(ctx); err == nil {
		if memInfo.UsedPercent > memBusyPercent {
			factor *= 0.8
		}
	} else {
		o.log.WithError(err).Debug("Memory sample failed, ignoring load factor")
	}

	workers := int(float64(base) * factor)
	if workers < 1 {
		workers = 1
	}
	if workers > o.cores*2 {
		workers = o.cores * 2
	}
	return workers
}

// Stats reports the sampled system state, for the health surface.
func (o *Optimizer) Stats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"cpu_cores":  o.cores,
		"memory_gb":  o.memoryGB,
		"goroutines": runtime.NumGoroutine(),
	}
	// interval 0 samples since the previous call and does not block
	if percents, err := o.cpuPercent(ctx, 0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}
	if memInfo, err := o.virtualMemory(ctx); err == nil {
		stats["memory_used_percent"] = memInfo.UsedPercent
	}
	return stats
}

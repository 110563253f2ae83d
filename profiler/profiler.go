// Package profiler - Periodic process health and operation timing reports.
package profiler

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxWindow bounds how many samples each operation keeps for averages.
const maxWindow = 1024

// OperationStats summarizes the recorded durations of one operation.
// Avg covers the most recent window; Min, Max, and Count cover the
// process lifetime.
type OperationStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Stats is a point-in-time snapshot of process health and operation
// timings.
type Stats struct {
	Uptime     time.Duration             `json:"uptime"`
	Goroutines int                       `json:"goroutines"`
	HeapAlloc  uint64                    `json:"heap_alloc"`
	TotalAlloc uint64                    `json:"total_alloc"`
	Sys        uint64                    `json:"sys"`
	GCCycles   uint32                    `json:"gc_cycles"`
	Operations map[string]OperationStats `json:"operations"`
}

// timing holds a bounded duration window plus lifetime aggregates.
type timing struct {
	window []time.Duration
	sum    time.Duration
	min    time.Duration
	max    time.Duration
	count  int64
}

// Profiler aggregates operation timings and reports process health on
// an interval. All methods are safe for concurrent use.
type Profiler struct {
	logger   *zap.Logger
	interval time.Duration

	mu      sync.RWMutex
	ops     map[string]*timing
	start   time.Time
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a profiler that reports through the given logger.
//
// Arguments:
// - logger: Destination for periodic reports.
// - interval: Time between reports. Zero defaults to 30 seconds.
//
// Returns:
// - A profiler ready to Start.
func New(logger *zap.Logger, interval time.Duration) *Profiler {
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &Profiler{
		logger:   logger,
		interval: interval,
		ops:      make(map[string]*timing),
		start:    time.Now(),
	}
}

// Start begins periodic reporting. Calling Start on a running profiler
// is a no-op.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.start = time.Now()
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.report()
			}
		}
	}()
}

// Stop halts reporting and waits for the report goroutine to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
}

// Observe records one duration for the named operation.
func (p *Profiler) Observe(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.ops[name]
	if !exists {
		tracker = &timing{min: duration, max: duration}
		p.ops[name] = tracker
	}

	tracker.window = append(tracker.window, duration)
	if len(tracker.window) > maxWindow {
		tracker.sum -= tracker.window[0]
		tracker.window = tracker.window[1:]
	}

	tracker.sum += duration
	tracker.count++

	if duration < tracker.min {
		tracker.min = duration
	}
	if duration > tracker.max {
		tracker.max = duration
	}
}

// Time starts timing an operation. The returned function stops the
// clock and records the sample.
//
// @example
//
//	defer prof.Time("predict")()
func (p *Profiler) Time(name string) func() {
	start := time.Now()
	return func() {
		p.Observe(name, time.Since(start))
	}
}

// Snapshot captures current process health and operation timings.
func (p *Profiler) Snapshot() Stats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	p.mu.RLock()
	defer p.mu.RUnlock()

	operations := make(map[string]OperationStats, len(p.ops))
	for name, tracker := range p.ops {
		if len(tracker.window) == 0 {
			continue
		}
		operations[name] = OperationStats{
			Count: tracker.count,
			Avg:   tracker.sum / time.Duration(len(tracker.window)),
			Min:   tracker.min,
			Max:   tracker.max,
		}
	}

	return Stats{
		Uptime:     time.Since(p.start),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  memStats.HeapAlloc,
		TotalAlloc: memStats.TotalAlloc,
		Sys:        memStats.Sys,
		GCCycles:   memStats.NumGC,
		Operations: operations,
	}
}

// report logs one snapshot.
func (p *Profiler) report() {
	snapshot := p.Snapshot()

	fields := []zap.Field{
		zap.Duration("uptime", snapshot.Uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", snapshot.Goroutines),
		zap.String("heap_alloc", formatBytes(snapshot.HeapAlloc)),
		zap.String("sys", formatBytes(snapshot.Sys)),
		zap.Uint32("gc_cycles", snapshot.GCCycles),
	}
	for name, op := range snapshot.Operations {
		fields = append(fields, zap.String(name, fmt.Sprintf(
			"count=%d avg=%v min=%v max=%v",
			op.Count,
			op.Avg.Truncate(time.Microsecond),
			op.Min.Truncate(time.Microsecond),
			op.Max.Truncate(time.Microsecond),
		)))
	}

	p.logger.Info("runtime report", fields...)
}

// formatBytes formats byte counts in human-readable form.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

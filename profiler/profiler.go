// Package profiler tracks operation timings and custom metrics of a long run
// and reports them periodically.
package profiler

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports. Zero disables
	// periodic reports.
	ReportInterval time.Duration
	Logger         logs.Log
}

// RuntimeProfiler collects metric and timing statistics. It is safe for
// concurrent use.
type RuntimeProfiler struct {
	opts ProfilingOptions

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startTime time.Time
	running   bool

	metrics    map[string]*Tracker
	operations map[string]*Tracker
}

// Tracker accumulates count, sum, min and max of a series.
type Tracker struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// Mean returns the average value, or 0 before the first sample.
func (t Tracker) Mean() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.Sum / float64(t.Count)
}

func (t *Tracker) add(v float64) {
	if t.Count == 0 {
		t.Min, t.Max = v, v
	}
	t.Count++
	t.Sum += v
	t.Min = math.Min(t.Min, v)
	t.Max = math.Max(t.Max, v)
}

// NewRuntimeProfiler creates a stopped profiler.
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	return &RuntimeProfiler{
		opts:       opts,
		startTime:  time.Now(),
		metrics:    make(map[string]*Tracker),
		operations: make(map[string]*Tracker),
	}
}

// Start begins periodic reporting.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()
	if rp.opts.ReportInterval <= 0 || rp.opts.Logger == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel
	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		ticker := time.NewTicker(rp.opts.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rp.Report()
			}
		}
	}()
}

// Stop ends periodic reporting.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.cancel = nil
	rp.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rp.wg.Wait()
}

// RecordMetric adds a sample to a custom metric.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	track(rp.metrics, name).add(value)
}

// StartOperation starts timing an operation. Call the returned function when
// it completes.
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() { rp.RecordOperation(name, time.Since(start)) }
}

// RecordOperation adds a completed operation's duration.
func (rp *RuntimeProfiler) RecordOperation(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	track(rp.operations, name).add(d.Seconds())
}

func track(m map[string]*Tracker, name string) *Tracker {
	t, ok := m[name]
	if !ok {
		t = &Tracker{}
		m[name] = t
	}
	return t
}

// Stats is a point-in-time copy of the profiler state.
type Stats struct {
	Uptime     time.Duration
	Goroutines int
	HeapAlloc  uint64
	NumGC      uint32
	Metrics    map[string]Tracker
	// Operations hold durations in seconds.
	Operations map[string]Tracker
}

// Snapshot returns the current statistics.
func (rp *RuntimeProfiler) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.mu.Lock()
	defer rp.mu.Unlock()
	s := Stats{
		Uptime:     time.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
		Metrics:    make(map[string]Tracker, len(rp.metrics)),
		Operations: make(map[string]Tracker, len(rp.operations)),
	}
	for n, t := range rp.metrics {
		s.Metrics[n] = *t
	}
	for n, t := range rp.operations {
		s.Operations[n] = *t
	}
	return s
}

// Report logs the current statistics.
func (rp *RuntimeProfiler) Report() {
	log := rp.opts.Logger
	if log == nil {
		return
	}
	s := rp.Snapshot()
	log.Infof("Profile after %v: %d goroutines, heap %s, %d GCs",
		s.Uptime.Truncate(time.Millisecond), s.Goroutines, formatBytes(s.HeapAlloc), s.NumGC)

	for _, n := range sortedKeys(s.Operations) {
		t := s.Operations[n]
		log.Infof("  %s: avg=%v, min=%v, max=%v, count=%d", n,
			seconds(t.Mean()), seconds(t.Min), seconds(t.Max), t.Count)
	}
	for _, n := range sortedKeys(s.Metrics) {
		t := s.Metrics[n]
		log.Infof("  %s: avg=%.2f, min=%.2f, max=%.2f, samples=%d", n, t.Mean(), t.Min, t.Max, t.Count)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Truncate(time.Microsecond)
}

func sortedKeys(m map[string]Tracker) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Package profiler samples runtime statistics, collects detector metrics and
// times named operations, emitting a periodic structured report.
package profiler

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/nvr-ai/go-cheatdetect/internal/log"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks runtime health, collector metrics and operation
// timings. All methods are safe for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	startTime   time.Time
	running     bool
	memStats    runtime.MemStats
	lastGCCount uint32
	goroutines  int
	cgoCalls    int64

	metrics    map[string]*MetricTracker
	collectors []MetricsCollector
	operations map[string]*TimeTracker
}

// MetricTracker keeps a rolling window of values for one metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (m *MetricTracker) add(v float64, window int) {
	if m.count == 0 || v < m.min {
		m.min = v
	}
	if m.count == 0 || v > m.max {
		m.max = v
	}
	m.values = append(m.values, v)
	m.sum += v
	if len(m.values) > window {
		m.sum -= m.values[0]
		m.values = m.values[1:]
	}
	m.count++
}

func (m *MetricTracker) avg() float64 {
	if len(m.values) == 0 {
		return 0
	}
	return m.sum / float64(len(m.values))
}

// TimeTracker keeps a rolling window of durations for one operation.
type TimeTracker struct {
	durations []time.Duration
	total     time.Duration
	min       time.Duration
	max       time.Duration
	count     int64
}

func (t *TimeTracker) add(d time.Duration, window int) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if t.count == 0 || d > t.max {
		t.max = d
	}
	t.durations = append(t.durations, d)
	t.total += d
	if len(t.durations) > window {
		t.total -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

func (t *TimeTracker) avg() time.Duration {
	if len(t.durations) == 0 {
		return 0
	}
	return t.total / time.Duration(len(t.durations))
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 30s)
	ReportInterval time.Duration
	// SampleInterval specifies how often to collect samples (default: 1s)
	SampleInterval time.Duration
	// MaxSamples bounds every rolling window (default: 600)
	MaxSamples int
	// Logger receives the reports (default: the global logger)
	Logger *slog.Logger
}

// NewRuntimeProfiler creates a stopped profiler.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 30 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Logger == nil {
		opts.Logger = log.L()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger.With("component", "profiler"),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		metrics:        make(map[string]*MetricTracker),
		operations:     make(map[string]*TimeTracker),
	}
}

// Start launches the sampling and reporting loops. Calling it twice is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()

	rp.wg.Add(2)
	go rp.loop(rp.sampleInterval, rp.Sample)
	go rp.loop(rp.reportInterval, rp.emitStatusReport)
}

// Stop ends both loops and waits for them.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

func (rp *RuntimeProfiler) loop(every time.Duration, fn func()) {
	defer rp.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// AddMetricsCollector registers a collector polled on every sample.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records one value of a custom metric.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordLocked(name, value)
}

func (rp *RuntimeProfiler) recordLocked(name string, value float64) {
	tracker, ok := rp.metrics[name]
	if !ok {
		tracker = &MetricTracker{}
		rp.metrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Returns:
// - A function to call when the operation completes
//
// @example
// done := prof.StartOperation("detect_image")
// defer done()
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation adds one completed operation duration.
func (rp *RuntimeProfiler) RecordOperation(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.operations[name]
	if !ok {
		tracker = &TimeTracker{}
		rp.operations[name] = tracker
	}
	tracker.add(d, rp.maxSamples)
}

// Sample reads runtime statistics and polls every collector once. The
// collectors run outside the profiler lock.
func (rp *RuntimeProfiler) Sample() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	rp.goroutines = runtime.NumGoroutine()
	rp.cgoCalls = runtime.NumCgoCall()

	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordLocked(name, value)
		}
	}
}

// emitStatusReport logs the current state as one structured record.
func (rp *RuntimeProfiler) emitStatusReport() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	attrs := []any{
		"uptime", time.Since(rp.startTime).Truncate(time.Millisecond).String(),
		"goroutines", rp.goroutines,
		"cgo_calls", rp.cgoCalls,
		"heap_alloc", formatBytes(rp.memStats.HeapAlloc),
		"sys", formatBytes(rp.memStats.Sys),
	}
	if rp.memStats.NumGC > rp.lastGCCount {
		attrs = append(attrs, "gc_new_cycles", rp.memStats.NumGC-rp.lastGCCount)
		rp.lastGCCount = rp.memStats.NumGC
	}

	metricGroup := make([]any, 0, len(rp.metrics))
	for name, m := range rp.metrics {
		metricGroup = append(metricGroup, slog.Group(name,
			"avg", m.avg(), "min", m.min, "max", m.max, "samples", len(m.values)))
	}
	opGroup := make([]any, 0, len(rp.operations))
	for name, op := range rp.operations {
		opGroup = append(opGroup, slog.Group(name,
			"avg", op.avg().Truncate(time.Microsecond).String(),
			"min", op.min.Truncate(time.Microsecond).String(),
			"max", op.max.Truncate(time.Microsecond).String(),
			"count", op.count))
	}
	attrs = append(attrs, slog.Group("metrics", metricGroup...), slog.Group("operations", opGroup...))

	rp.logger.Info("runtime profile", attrs...)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "B"
}

// GetCurrentStats returns a JSON-friendly snapshot of everything tracked.
func (rp *RuntimeProfiler) GetCurrentStats() map[string]interface{} {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	custom := make(map[string]interface{}, len(rp.metrics))
	for name, m := range rp.metrics {
		custom[name] = map[string]interface{}{
			"avg":     m.avg(),
			"min":     m.min,
			"max":     m.max,
			"samples": len(m.values),
		}
	}

	ops := make(map[string]interface{}, len(rp.operations))
	for name, op := range rp.operations {
		ops[name] = map[string]interface{}{
			"avg_ms": float64(op.avg()) / float64(time.Millisecond),
			"min_ms": float64(op.min) / float64(time.Millisecond),
			"max_ms": float64(op.max) / float64(time.Millisecond),
			"count":  op.count,
		}
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(rp.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"cgo_calls":      runtime.NumCgoCall(),
		"memory": map[string]interface{}{
			"heap_alloc":      rp.memStats.HeapAlloc,
			"heap_objects":    rp.memStats.HeapObjects,
			"sys":             rp.memStats.Sys,
			"gc_cycles":       rp.memStats.NumGC,
			"gc_cpu_fraction": rp.memStats.GCCPUFraction,
		},
		"custom_metrics": custom,
		"operations":     ops,
	}
}

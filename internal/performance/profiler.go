package performance

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Profiler tracks timings and counters for named operations
type Profiler struct {
	enabled atomic.Bool

	mu        sync.Mutex
	metrics   map[string]*Metric
	counters  map[string]int64
	startTime time.Time
}

// Metric is a snapshot of the timings for one operation
type Metric struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	LastCall  time.Time
}

// Operation represents a single timed operation
type Operation struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a new performance profiler
func NewProfiler(enabled bool) *Profiler {
	p := &Profiler{
		metrics:   make(map[string]*Metric),
		counters:  make(map[string]int64),
		startTime: time.Now(),
	}
	p.enabled.Store(enabled)
	return p
}

// Start begins timing an operation. It returns nil when profiling is
// disabled; End on a nil operation is a no-op.
func (p *Profiler) Start(name string) *Operation {
	if p == nil || !p.enabled.Load() {
		return nil
	}
	return &Operation{
		profiler: p,
		name:     name,
		start:    time.Now(),
	}
}

// End completes timing an operation and records the metric
func (o *Operation) End() {
	if o == nil {
		return
	}
	o.profiler.Record(o.name, time.Since(o.start))
}

// Record directly records a duration for an operation
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil || !p.enabled.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	metric, exists := p.metrics[name]
	if !exists {
		metric = &Metric{
			Name:    name,
			MinTime: duration,
			MaxTime: duration,
		}
		p.metrics[name] = metric
	}

	metric.Count++
	metric.TotalTime += duration
	metric.LastTime = duration
	metric.LastCall = time.Now()
	metric.MinTime = min(metric.MinTime, duration)
	metric.MaxTime = max(metric.MaxTime, duration)
}

// Incr adds one to a named counter, e.g. cache hits.
func (p *Profiler) Incr(name string) {
	p.Add(name, 1)
}

// Add adds delta to a named counter.
func (p *Profiler) Add(name string, delta int64) {
	if p == nil || !p.enabled.Load() {
		return
	}
	p.mu.Lock()
	p.counters[name] += delta
	p.mu.Unlock()
}

// Counter returns the value of a named counter.
func (p *Profiler) Counter(name string) int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}

// GetMetric returns a copy of the statistics for one operation, or nil.
func (p *Profiler) GetMetric(name string) *Metric {
	p.mu.Lock()
	defer p.mu.Unlock()
	metric, ok := p.metrics[name]
	if !ok {
		return nil
	}
	snapshot := *metric
	return &snapshot
}

// GetMetrics returns copies of all metrics
func (p *Profiler) GetMetrics() map[string]*Metric {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make(map[string]*Metric, len(p.metrics))
	for name, metric := range p.metrics {
		snapshot := *metric
		result[name] = &snapshot
	}
	return result
}

// AverageTime returns the average time for a metric
func (m *Metric) AverageTime() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// Reset clears all metrics and counters
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = make(map[string]*Metric)
	p.counters = make(map[string]int64)
	p.startTime = time.Now()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Report generates a human-readable performance report
func (p *Profiler) Report() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.metrics) == 0 && len(p.counters) == 0 {
		return "No performance metrics recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Performance Report (since %s) ===\n", p.startTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "%-32s %10s %10s %10s %10s %10s\n", "Operation", "Count", "Avg", "Min", "Max", "Last")
	b.WriteString(strings.Repeat("-", 87) + "\n")

	for _, name := range sortedKeys(p.metrics) {
		metric := p.metrics[name]
		fmt.Fprintf(&b, "%-32s %10d %10s %10s %10s %10s\n",
			name,
			metric.Count,
			metric.AverageTime().Round(time.Microsecond),
			metric.MinTime.Round(time.Microsecond),
			metric.MaxTime.Round(time.Microsecond),
			metric.LastTime.Round(time.Microsecond),
		)
	}

	if len(p.counters) > 0 {
		b.WriteString("\nCounters:\n")
		for _, name := range sortedKeys(p.counters) {
			fmt.Fprintf(&b, "%-32s %10d\n", name, p.counters[name])
		}
	}

	fmt.Fprintf(&b, "\nTotal runtime: %s\n", time.Since(p.startTime).Round(time.Second))
	return b.String()
}

// LogReport logs the performance report
func (p *Profiler) LogReport() {
	log.Print(p.Report())
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// JSONReport generates a JSON performance report. Durations are in
// milliseconds.
func (p *Profiler) JSONReport() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type MetricJSON struct {
		Name      string    `json:"name"`
		Count     int64     `json:"count"`
		TotalTime float64   `json:"total_time_ms"`
		AvgTime   float64   `json:"avg_time_ms"`
		MinTime   float64   `json:"min_time_ms"`
		MaxTime   float64   `json:"max_time_ms"`
		LastTime  float64   `json:"last_time_ms"`
		LastCall  time.Time `json:"last_call"`
	}

	type ReportJSON struct {
		StartTime time.Time              `json:"start_time"`
		Runtime   float64                `json:"runtime_ms"`
		Metrics   map[string]*MetricJSON `json:"metrics"`
		Counters  map[string]int64       `json:"counters"`
	}

	report := ReportJSON{
		StartTime: p.startTime,
		Runtime:   millis(time.Since(p.startTime)),
		Metrics:   make(map[string]*MetricJSON, len(p.metrics)),
		Counters:  make(map[string]int64, len(p.counters)),
	}

	for name, metric := range p.metrics {
		report.Metrics[name] = &MetricJSON{
			Name:      metric.Name,
			Count:     metric.Count,
			TotalTime: millis(metric.TotalTime),
			AvgTime:   millis(metric.AverageTime()),
			MinTime:   millis(metric.MinTime),
			MaxTime:   millis(metric.MaxTime),
			LastTime:  millis(metric.LastTime),
			LastCall:  metric.LastCall,
		}
	}
	for name, value := range p.counters {
		report.Counters[name] = value
	}

	return json.MarshalIndent(report, "", "  ")
}

// Enable enables profiling
func (p *Profiler) Enable() {
	p.enabled.Store(true)
}

// Disable disables profiling
func (p *Profiler) Disable() {
	p.enabled.Store(false)
}

// IsEnabled returns whether profiling is enabled
func (p *Profiler) IsEnabled() bool {
	return p != nil && p.enabled.Load()
}

package performance

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestProfiler(t *testing.T) {
	profiler := NewProfiler(true)

	op := profiler.Start("test_operation")
	time.Sleep(2 * time.Millisecond)
	op.End()

	metric := profiler.GetMetric("test_operation")
	if metric == nil {
		t.Fatal("Metric not found")
	}

	if metric.Count != 1 {
		t.Errorf("Expected count 1, got %d", metric.Count)
	}

	if metric.MinTime < 2*time.Millisecond {
		t.Errorf("Expected min time of at least 2ms, got %v", metric.MinTime)
	}
}

func TestProfilerDisabled(t *testing.T) {
	profiler := NewProfiler(false)

	op := profiler.Start("test_operation")
	if op != nil {
		t.Error("Expected nil operation when profiler disabled")
	}
	op.End()

	profiler.Record("test", 10*time.Millisecond)
	profiler.Incr("hits")
	if profiler.GetMetric("test") != nil {
		t.Error("Expected nil metric when profiler disabled")
	}
	if profiler.Counter("hits") != 0 {
		t.Error("Expected counter to stay zero when profiler disabled")
	}

	profiler.Enable()
	if !profiler.IsEnabled() {
		t.Error("Expected profiler to be enabled")
	}
	profiler.Incr("hits")
	if profiler.Counter("hits") != 1 {
		t.Errorf("Expected counter 1, got %d", profiler.Counter("hits"))
	}
}

func TestNilProfiler(t *testing.T) {
	var profiler *Profiler
	profiler.Start("x").End()
	profiler.Record("x", time.Millisecond)
	profiler.Incr("x")
	if profiler.IsEnabled() {
		t.Error("Expected nil profiler to be disabled")
	}
	if profiler.Counter("x") != 0 {
		t.Error("Expected nil profiler counter to be zero")
	}
}

func TestProfilerStatistics(t *testing.T) {
	profiler := NewProfiler(true)

	for _, d := range []time.Duration{3, 1, 5, 7} {
		profiler.Record("generate", d*time.Millisecond)
	}

	metric := profiler.GetMetric("generate")
	if metric.Count != 4 {
		t.Errorf("Expected count 4, got %d", metric.Count)
	}
	if metric.MinTime != time.Millisecond || metric.MaxTime != 7*time.Millisecond {
		t.Errorf("Expected min 1ms max 7ms, got %v %v", metric.MinTime, metric.MaxTime)
	}
	if metric.LastTime != 7*time.Millisecond {
		t.Errorf("Expected last 7ms, got %v", metric.LastTime)
	}
	if avg := metric.AverageTime(); avg != 4*time.Millisecond {
		t.Errorf("Expected avg 4ms, got %v", avg)
	}

	// Snapshots do not change underneath the caller.
	profiler.Record("generate", time.Second)
	if metric.Count != 4 {
		t.Errorf("Expected snapshot count to stay 4, got %d", metric.Count)
	}
}

func TestProfilerConcurrent(t *testing.T) {
	profiler := NewProfiler(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				profiler.Record("op", time.Microsecond)
				profiler.Incr("count")
			}
		}()
	}
	wg.Wait()

	if got := profiler.GetMetric("op").Count; got != 800 {
		t.Errorf("Expected 800 records, got %d", got)
	}
	if got := profiler.Counter("count"); got != 800 {
		t.Errorf("Expected counter 800, got %d", got)
	}
}

func TestProfilerReport(t *testing.T) {
	profiler := NewProfiler(true)
	if got := profiler.Report(); got != "No performance metrics recorded" {
		t.Errorf("Unexpected empty report %q", got)
	}

	profiler.Record("op2", 20*time.Millisecond)
	profiler.Record("op1", 10*time.Millisecond)
	profiler.Incr("cache_hit")

	report := profiler.Report()
	i1, i2 := strings.Index(report, "op1"), strings.Index(report, "op2")
	if i1 < 0 || i2 < 0 || i1 > i2 {
		t.Errorf("Expected sorted operations in report:\n%s", report)
	}
	if !strings.Contains(report, "cache_hit") {
		t.Errorf("Expected counters in report:\n%s", report)
	}

	profiler.Reset()
	if len(profiler.GetMetrics()) != 0 || profiler.Counter("cache_hit") != 0 {
		t.Error("Expected reset to clear metrics and counters")
	}
}

func TestProfilerJSONReport(t *testing.T) {
	profiler := NewProfiler(true)

	profiler.Record("json_test", 15*time.Millisecond)
	profiler.Add("chunks", 3)

	jsonData, err := profiler.JSONReport()
	if err != nil {
		t.Fatalf("Failed to generate JSON report: %v", err)
	}

	var report struct {
		Metrics map[string]struct {
			Count   int64   `json:"count"`
			AvgTime float64 `json:"avg_time_ms"`
		} `json:"metrics"`
		Counters map[string]int64 `json:"counters"`
	}
	if err := json.Unmarshal(jsonData, &report); err != nil {
		t.Fatalf("Failed to parse JSON report: %v", err)
	}
	if m := report.Metrics["json_test"]; m.Count != 1 || m.AvgTime != 15 {
		t.Errorf("Unexpected metric %+v", m)
	}
	if report.Counters["chunks"] != 3 {
		t.Errorf("Expected chunks counter 3, got %d", report.Counters["chunks"])
	}
}

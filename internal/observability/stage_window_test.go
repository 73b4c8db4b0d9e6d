package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("relevance_fetch", 200)
	w.Observe("relevance_fetch", 300)
	w.Observe("relevance_fetch", 500)
	w.ObserveIndicator("relevance_degraded")
	w.ObserveIndicator("relevance_degraded")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "relevance_fetch" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "relevance_fetch")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 500 {
		t.Fatalf("LastMS = %.2f, want 500", s.LastMS)
	}
	if s.P50MS != 300 {
		t.Fatalf("P50MS = %.2f, want 300", s.P50MS)
	}
	if s.P95MS <= 300 || s.P95MS > 500 {
		t.Fatalf("P95MS = %.2f, want (300,500]", s.P95MS)
	}
	if s.TargetP95MS != 400 {
		t.Fatalf("TargetP95MS = %.2f, want 400", s.TargetP95MS)
	}
	if s.OverTarget != 1 {
		t.Fatalf("OverTarget = %d, want 1", s.OverTarget)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := newStageWindow(2)
	w.Observe("merge_truncate", 1)
	w.Observe("merge_truncate", 2)
	w.Observe("merge_truncate", 3)

	snap := w.Snapshot()
	if got := snap.Stages[0].Samples; got != 2 {
		t.Fatalf("Samples = %d, want 2", got)
	}
	if got := snap.Stages[0].AvgMS; got != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", got)
	}
	if got := snap.Stages[0].LastMS; got != 3 {
		t.Fatalf("LastMS = %.2f, want 3", got)
	}
}

func TestQuantileInterpolates(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	cases := map[float64]float64{0: 10, 0.5: 25, 1: 40}
	for q, want := range cases {
		if got := quantile(sorted, q); got != want {
			t.Fatalf("quantile(%v) = %v, want %v", q, got, want)
		}
	}
	if got := quantile(nil, 0.5); got != 0 {
		t.Fatalf("quantile(nil) = %v, want 0", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveSource("recency", "ok")
	m.ObserveStage("recency_fetch", time.Millisecond)
	m.ObserveTruncation("entry")
	if snap := m.StageSnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot has stages: %+v", snap.Stages)
	}
}

func TestMetricsRecordSourceIndicators(t *testing.T) {
	m := NewMetricsWithRegisterer("test_observability", prometheus.NewRegistry())
	m.ObserveSource("recency", "degraded")
	m.ObserveStage("recency_fetch", 12*time.Millisecond)

	snap := m.StageSnapshot()
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "recency_degraded" {
		t.Fatalf("Indicators = %+v, want recency_degraded", snap.Indicators)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 12 {
		t.Fatalf("Stages = %+v, want recency_fetch at 12ms", snap.Stages)
	}
}

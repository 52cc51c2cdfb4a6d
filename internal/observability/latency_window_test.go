package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageResponseToFirstAudio, 500)
	w.Observe(StageResponseToFirstAudio, 700)
	w.Observe(StageResponseToFirstAudio, 900)
	w.ObserveIndicator("voice_fallback")
	w.ObserveIndicator("voice_fallback")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageResponseToFirstAudio {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageResponseToFirstAudio)
	}
	if s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1200 {
		t.Fatalf("TargetP95MS = %.2f, want 1200", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want voice_fallback x2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(StageToolCall, 10)
	w.Observe(StageToolCall, 20)
	w.Observe(StageToolCall, 30)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25 (oldest sample evicted)", s.AvgMS)
	}
}

func TestLatencyWindowIgnoresInvalidSamples(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe("", 10)
	w.Observe(StageToolCall, -1)
	w.ObserveIndicator("  ")
	snap := w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetActiveSessions(3)
	m.IncUpstreamEvent("response.done")
	m.IncToolInvocation("check_order_status", "ok")
	m.IncVoiceFallback()
	m.ObserveFirstAudioLatency(time.Second)
	if snap := m.SnapshotLatency(); len(snap.Stages) != 0 {
		t.Fatalf("SnapshotLatency() = %+v, want empty", snap)
	}
}

func TestMetricsRecordsStages(t *testing.T) {
	m := NewMetrics("voicerelay_test_metrics_stages")
	m.ObserveFirstAudioLatency(300 * time.Millisecond)
	m.ObserveStage(StageToolCall, 40*time.Millisecond)
	m.IncReadbackFallback()

	snap := m.SnapshotLatency()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != StageResponseToFirstAudio || snap.Stages[0].LastMS != 300 {
		t.Fatalf("Stages[0] = %+v", snap.Stages[0])
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "readback_fallback" {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

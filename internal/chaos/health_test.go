package chaos

import (
	"testing"
	"time"
)

func TestHealthHistoryEvictsOldest(t *testing.T) {
	h := NewHealthHistory(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		h.Append(HealthSample{Timestamp: base.Add(time.Duration(i) * time.Second), CPUPercent: float64(i)})
	}

	if h.Len() != 3 {
		t.Fatalf("Expected 3 samples, got %d", h.Len())
	}

	snap := h.Snapshot()
	for i, s := range snap {
		if s.CPUPercent != float64(i+2) {
			t.Errorf("Sample %d: expected cpu %d, got %f", i, i+2, s.CPUPercent)
		}
	}

	latest, ok := h.Latest()
	if !ok || latest.CPUPercent != 4 {
		t.Errorf("Expected latest cpu 4, got %v", latest.CPUPercent)
	}
}

func TestHealthHistorySince(t *testing.T) {
	h := NewHealthHistory(10)
	base := time.Now()
	h.Append(HealthSample{Timestamp: base, Target: ""})
	h.Append(HealthSample{Timestamp: base.Add(time.Second), Target: "api"})
	h.Append(HealthSample{Timestamp: base.Add(2 * time.Second), Target: ""})

	if got := h.Since(base.Add(time.Second), nil); len(got) != 2 {
		t.Errorf("Expected 2 samples since +1s, got %d", len(got))
	}
	host := HostTarget
	if got := h.Since(base, &host); len(got) != 2 {
		t.Errorf("Expected 2 host samples, got %d", len(got))
	}
}

func TestHealthHistoryEmpty(t *testing.T) {
	h := NewHealthHistory(0)
	if _, ok := h.Latest(); ok {
		t.Error("Expected no latest sample")
	}
	if h.Cap() != 1 {
		t.Errorf("Expected capacity clamped to 1, got %d", h.Cap())
	}
}

func TestDegraded(t *testing.T) {
	if !(HealthSample{TargetReachable: true, StatusCode: 503}).Degraded() {
		t.Error("503 should be degraded")
	}
	if (HealthSample{TargetReachable: true, StatusCode: 200}).Degraded() {
		t.Error("200 should not be degraded")
	}
	if (HealthSample{TargetReachable: false}).Degraded() {
		t.Error("Unreachable is not degraded")
	}
}

package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/logging"
)

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	if !cfg.Results.InMemory {
		t.Error("Expected test config to use in-memory results")
	}
	if cfg.Admin.Port != 0 {
		t.Error("Expected test config to use port 0")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected test config to validate: %v", err)
	}
}

func TestStaticHost(t *testing.T) {
	host := NewStaticHost(10, 50, 25)
	stats, err := host.SampleHost(context.Background())
	if err != nil || stats.MemoryPercent != 50 || stats.MemoryUsedBytes != 8<<30 {
		t.Errorf("Unexpected stats: %+v (%v)", stats, err)
	}

	host.Set(chaos.HostStats{CPUPercent: 99})
	stats, _ = host.SampleHost(context.Background())
	if stats.CPUPercent != 99 {
		t.Errorf("Expected updated CPU, got %f", stats.CPUPercent)
	}
}

func TestHealthTargetWithProbe(t *testing.T) {
	target := NewHealthTarget(t)
	probe := chaos.NewHealthProbe(time.Second, NewStaticHost(1, 1, 1), logging.Discard())
	probe.SetEndpoint("svc", target.HealthURL())

	sample := probe.Sample(context.Background(), "svc")
	if !sample.TargetReachable || sample.Degraded() {
		t.Errorf("Expected healthy sample, got %+v", sample)
	}

	target.SetStatus(http.StatusServiceUnavailable)
	sample = probe.Sample(context.Background(), "svc")
	if !sample.Degraded() {
		t.Errorf("Expected degraded sample, got %+v", sample)
	}
}

func TestMustSpec(t *testing.T) {
	spec := MustSpec(t, "cpu", chaos.KindCPUStress, time.Second, 0.5, "", nil)
	if spec.IntParam("cores") != 2 {
		t.Errorf("Expected default cores, got %d", spec.IntParam("cores"))
	}
}

func TestAssertHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusTeapot)
	AssertHTTPStatus(t, rec, http.StatusTeapot)
	AssertContains(t, "chaos monkey", "monkey")
}

func TestWaitForConditionAndConcurrent(t *testing.T) {
	var counter atomic.Int64
	ConcurrentTest(t, 8, func(int) { counter.Add(1) })
	WaitForCondition(t, func() bool { return counter.Load() == 8 }, time.Second, 5*time.Millisecond)

	heap, sys, _ := MemoryUsage()
	if heap == 0 || sys < heap {
		t.Errorf("Unexpected memory stats heap=%d sys=%d", heap, sys)
	}
}

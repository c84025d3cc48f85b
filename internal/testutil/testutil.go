package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/config"
	"chaosmonkey/internal/logging"
)

// TestConfig returns defaults suitable for tests: in-memory results, ephemeral ports.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Results.InMemory = true
	cfg.Admin.Port = 0
	cfg.DemoTarget.Port = 0
	cfg.Logging = logging.TestLoggingConfig()
	return cfg
}

// TestLogger creates a test logger with minimal configuration
func TestLogger() *logging.Logger {
	testLogConfig := logging.TestLoggingConfig()
	return logging.NewLogger(&testLogConfig)
}

// StaticHost reports fixed host statistics and can be changed mid-test.
type StaticHost struct {
	mu    sync.Mutex
	stats chaos.HostStats
}

func NewStaticHost(cpu, memory, disk float64) *StaticHost {
	return &StaticHost{stats: chaos.HostStats{
		CPUPercent:       cpu,
		MemoryPercent:    memory,
		DiskPercent:      disk,
		MemoryTotalBytes: 16 << 30,
		MemoryUsedBytes:  uint64(memory / 100 * float64(16<<30)),
		DiskTotalBytes:   500 << 30,
		DiskFreeBytes:    uint64((100 - disk) / 100 * float64(500<<30)),
	}}
}

func (h *StaticHost) SampleHost(ctx context.Context) (chaos.HostStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats, nil
}

func (h *StaticHost) Set(stats chaos.HostStats) {
	h.mu.Lock()
	h.stats = stats
	h.mu.Unlock()
}

// HealthTarget is an httptest server whose health endpoint can be flipped.
type HealthTarget struct {
	*httptest.Server
	mu     sync.Mutex
	status int
}

func NewHealthTarget(t *testing.T) *HealthTarget {
	t.Helper()
	h := &HealthTarget{status: http.StatusOK}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		status := h.status
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"status":"healthy","error_rate":0}`))
			return
		}
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	t.Cleanup(h.Server.Close)
	return h
}

func (h *HealthTarget) SetStatus(status int) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *HealthTarget) HealthURL() string {
	return h.URL + "/health"
}

// MustSpec builds a validated FaultSpec or fails the test.
func MustSpec(t *testing.T, name string, kind chaos.FaultKind, duration time.Duration, probability float64, target string, params map[string]interface{}) chaos.FaultSpec {
	t.Helper()
	spec, err := chaos.NewFaultSpec(name, kind, duration, probability, target, params)
	if err != nil {
		t.Fatalf("Invalid spec %s: %v", name, err)
	}
	return spec
}

// AssertHTTPStatus asserts that the HTTP response has the expected status code
func AssertHTTPStatus(t *testing.T, recorder *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if recorder.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d. Body: %s", expectedStatus, recorder.Code, recorder.Body.String())
	}
}

// AssertContains asserts that a string contains a substring
func AssertContains(t *testing.T, str, substr string) {
	t.Helper()
	if !strings.Contains(str, substr) {
		t.Errorf("Expected string to contain '%s', but it didn't. String: %s", substr, str)
	}
}

// WaitForCondition polls condition until it holds or the timeout passes
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, checkInterval time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(checkInterval)
	}
	t.Fatalf("Condition not met within %v", timeout)
}

// ConcurrentTest runs testFunc from concurrency goroutines and waits for all of them
func ConcurrentTest(t *testing.T, concurrency int, testFunc func(int)) {
	t.Helper()
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}
	wg.Wait()
}

// MemoryUsage returns current heap statistics
func MemoryUsage() (heapAlloc, heapSys, numGC uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc, m.HeapSys, uint64(m.NumGC)
}

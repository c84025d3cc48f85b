package chaos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"chaosmonkey/internal/logging"
)

// staticSampler reports fixed host statistics.
type staticSampler struct {
	mu    sync.Mutex
	stats HostStats
}

func (s *staticSampler) SampleHost(ctx context.Context) (HostStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *staticSampler) set(stats HostStats) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

// flakySampler reports quiet host statistics until fail is called.
type flakySampler struct {
	mu  sync.Mutex
	err error
}

func (s *flakySampler) SampleHost(ctx context.Context) (HostStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return HostStats{}, s.err
	}
	return quietHost().stats, nil
}

func (s *flakySampler) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// heapSampler reports Go heap usage against a fixed pretend total, so memory
// faults move the numbers deterministically.
type heapSampler struct {
	total uint64
}

func (h heapSampler) SampleHost(ctx context.Context) (HostStats, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return HostStats{
		CPUPercent:       5,
		MemoryTotalBytes: h.total,
		MemoryUsedBytes:  ms.HeapAlloc,
		MemoryPercent:    float64(ms.HeapAlloc) / float64(h.total) * 100,
		DiskPercent:      10,
		DiskTotalBytes:   100 << 30,
		DiskFreeBytes:    90 << 30,
	}, nil
}

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","error_rate":0.01}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// trackingExecutor counts concurrently held handles per target.
type trackingExecutor struct {
	kind FaultKind

	mu        sync.Mutex
	held      map[string]int
	maxHeld   int
	acquired  int
	released  int
	intervals map[string][][2]time.Time
}

func newTrackingExecutor(kind FaultKind) *trackingExecutor {
	return &trackingExecutor{
		kind:      kind,
		held:      make(map[string]int),
		intervals: make(map[string][][2]time.Time),
	}
}

func (e *trackingExecutor) Kind() FaultKind { return e.kind }

func (e *trackingExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	e.mu.Lock()
	e.held[spec.Target]++
	if e.held[spec.Target] > e.maxHeld {
		e.maxHeld = e.held[spec.Target]
	}
	e.acquired++
	e.mu.Unlock()

	start := time.Now()
	return newReleaser(e.kind, func() error {
		e.mu.Lock()
		e.held[spec.Target]--
		e.released++
		e.intervals[spec.Target] = append(e.intervals[spec.Target], [2]time.Time{start, time.Now()})
		e.mu.Unlock()
		return nil
	}), nil
}

func (e *trackingExecutor) stats() (acquired, released, maxHeld int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired, e.released, e.maxHeld
}

type schedulerFixture struct {
	scheduler *Scheduler
	registry  *Registry
	recorder  *ResultRecorder
	probe     *HealthProbe
	history   *HealthHistory
}

func newFixture(t *testing.T, cfg SchedulerConfig, limits SafetyLimits, host HostSampler, specs []FaultSpec, executors ...Executor) *schedulerFixture {
	t.Helper()

	logger := logging.Discard()
	registry := NewRegistry()
	for _, spec := range specs {
		if _, err := registry.Register(spec); err != nil {
			t.Fatalf("Failed to register %s: %v", spec.Name, err)
		}
	}

	probe := NewHealthProbe(500*time.Millisecond, host, logger)
	recorder := NewResultRecorder(100, logger)
	history := NewHealthHistory(100)
	governor := NewSafetyGovernor(limits, 10)

	s := NewScheduler(cfg, registry, NewWeightedRandomSelector(1), governor, NewExecutorSet(executors...),
		probe, recorder, history, logger)
	t.Cleanup(s.Stop)

	return &schedulerFixture{
		scheduler: s,
		registry:  registry,
		recorder:  recorder,
		probe:     probe,
		history:   history,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

package chaos

import (
	"context"
	"sync"
	"time"

	"chaosmonkey/internal/logging"
)

// RunSummary is what reporters receive once per run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Experiment string        `json:"experiment"`
	Kind       FaultKind     `json:"kind"`
	Target     string        `json:"target,omitempty"`
	Outcome    RunState      `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	EndedAt    time.Time     `json:"ended_at"`
	Duration   time.Duration `json:"duration"`
	Health     HealthSummary `json:"health"`
}

// HealthSummary condenses the samples taken while a run was active.
type HealthSummary struct {
	Samples          int           `json:"samples"`
	Unreachable      int           `json:"unreachable"`
	Baseline         *HealthSample `json:"baseline,omitempty"`
	Final            *HealthSample `json:"final,omitempty"`
	MinCPUPercent    float64       `json:"min_cpu_percent"`
	MaxCPUPercent    float64       `json:"max_cpu_percent"`
	AvgCPUPercent    float64       `json:"avg_cpu_percent"`
	MinMemoryPercent float64       `json:"min_memory_percent"`
	MaxMemoryPercent float64       `json:"max_memory_percent"`
	AvgMemoryPercent float64       `json:"avg_memory_percent"`
	MaxResponseTime  time.Duration `json:"max_response_time"`
	CPUDelta         float64       `json:"cpu_delta"`
	MemoryDelta      float64       `json:"memory_delta"`
}

func summarizeHealth(samples []HealthSample) HealthSummary {
	var h HealthSummary
	if len(samples) == 0 {
		return h
	}
	first, last := samples[0], samples[len(samples)-1]
	h.Samples = len(samples)
	h.Baseline = &first
	h.Final = &last
	h.MinCPUPercent, h.MaxCPUPercent = first.CPUPercent, first.CPUPercent
	h.MinMemoryPercent, h.MaxMemoryPercent = first.MemoryPercent, first.MemoryPercent

	var cpuSum, memSum float64
	for _, s := range samples {
		if !s.TargetReachable {
			h.Unreachable++
		}
		cpuSum += s.CPUPercent
		memSum += s.MemoryPercent
		h.MinCPUPercent = min(h.MinCPUPercent, s.CPUPercent)
		h.MaxCPUPercent = max(h.MaxCPUPercent, s.CPUPercent)
		h.MinMemoryPercent = min(h.MinMemoryPercent, s.MemoryPercent)
		h.MaxMemoryPercent = max(h.MaxMemoryPercent, s.MemoryPercent)
		h.MaxResponseTime = max(h.MaxResponseTime, s.ResponseTime)
	}
	h.AvgCPUPercent = cpuSum / float64(len(samples))
	h.AvgMemoryPercent = memSum / float64(len(samples))
	h.CPUDelta = last.CPUPercent - first.CPUPercent
	h.MemoryDelta = last.MemoryPercent - first.MemoryPercent
	return h
}

// Reporter consumes completed run summaries.
type Reporter interface {
	Report(ctx context.Context, summary RunSummary) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, summary RunSummary) error

func (f ReporterFunc) Report(ctx context.Context, summary RunSummary) error {
	return f(ctx, summary)
}

// ResultRecorder keeps the most recent summaries and fans each one out to the
// reporters exactly once per run.
type ResultRecorder struct {
	mu        sync.RWMutex
	logger    *logging.Logger
	reporters []Reporter
	results   []RunSummary
	seen      map[string]bool
	counts    map[RunState]int
	limit     int
}

func NewResultRecorder(limit int, logger *logging.Logger, reporters ...Reporter) *ResultRecorder {
	if limit <= 0 {
		limit = 1000
	}
	return &ResultRecorder{
		logger:    logger,
		reporters: reporters,
		seen:      make(map[string]bool),
		counts:    make(map[RunState]int),
		limit:     limit,
	}
}

func (r *ResultRecorder) AddReporter(rep Reporter) {
	r.mu.Lock()
	r.reporters = append(r.reporters, rep)
	r.mu.Unlock()
}

// Record stores the summary and forwards it. A second call for the same run is ignored.
func (r *ResultRecorder) Record(ctx context.Context, summary RunSummary) bool {
	r.mu.Lock()
	if r.seen[summary.RunID] {
		r.mu.Unlock()
		return false
	}
	r.seen[summary.RunID] = true
	r.counts[summary.Outcome]++
	r.results = append(r.results, summary)
	if len(r.results) > r.limit {
		evicted := r.results[0]
		r.results = r.results[1:]
		delete(r.seen, evicted.RunID)
	}
	reporters := append([]Reporter(nil), r.reporters...)
	r.mu.Unlock()

	for _, rep := range reporters {
		if err := rep.Report(ctx, summary); err != nil {
			r.logger.WithError(err).Warn("Reporter failed", "run_id", summary.RunID)
		}
	}
	return true
}

// Results returns stored summaries, oldest first.
func (r *ResultRecorder) Results() []RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RunSummary, len(r.results))
	copy(out, r.results)
	return out
}

func (r *ResultRecorder) Get(runID string) (RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.results) - 1; i >= 0; i-- {
		if r.results[i].RunID == runID {
			return r.results[i], true
		}
	}
	return RunSummary{}, false
}

// Counts returns the number of recorded runs per outcome.
func (r *ResultRecorder) Counts() map[RunState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[RunState]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

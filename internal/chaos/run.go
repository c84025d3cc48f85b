package chaos

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle position of an ExperimentRun.
type RunState string

const (
	StatePending        RunState = "pending"
	StateAdmissionCheck RunState = "admission_check"
	StateRejected       RunState = "rejected"
	StateActive         RunState = "active"
	StateCompleted      RunState = "completed"
	StateAborted        RunState = "aborted"
)

func (s RunState) Terminal() bool {
	return s == StateRejected || s == StateCompleted || s == StateAborted
}

var allowedTransitions = map[RunState][]RunState{
	StatePending:        {StateAdmissionCheck},
	StateAdmissionCheck: {StateRejected, StateActive},
	StateActive:         {StateCompleted, StateAborted},
}

// ExperimentRun is one attempt at executing a FaultSpec.
type ExperimentRun struct {
	ID   string
	Spec FaultSpec

	mu        sync.RWMutex
	state     RunState
	reason    string
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	samples   []HealthSample

	abortOnce sync.Once
	abortCh   chan string
	done      chan struct{}
}

func newExperimentRun(spec FaultSpec) *ExperimentRun {
	return &ExperimentRun{
		ID:        uuid.NewString(),
		Spec:      spec,
		state:     StatePending,
		createdAt: time.Now(),
		abortCh:   make(chan string, 1),
		done:      make(chan struct{}),
	}
}

func (r *ExperimentRun) transition(to RunState, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := false
	for _, s := range allowedTransitions[r.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("run %s: illegal transition %s -> %s", r.ID, r.state, to)
	}

	now := time.Now()
	r.state = to
	if reason != "" {
		r.reason = reason
	}
	if to == StateActive {
		r.startedAt = now
	}
	if to.Terminal() {
		r.endedAt = now
		close(r.done)
	}
	return nil
}

// Abort asks an active run to stop. Only the first reason is kept.
func (r *ExperimentRun) Abort(reason string) {
	r.abortOnce.Do(func() {
		r.abortCh <- reason
	})
}

func (r *ExperimentRun) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *ExperimentRun) Reason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reason
}

// Done is closed when the run reaches a terminal state.
func (r *ExperimentRun) Done() <-chan struct{} {
	return r.done
}

func (r *ExperimentRun) Wait() RunState {
	<-r.done
	return r.State()
}

func (r *ExperimentRun) StartedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt
}

func (r *ExperimentRun) EndedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endedAt
}

func (r *ExperimentRun) addSample(s HealthSample) {
	r.mu.Lock()
	if !r.state.Terminal() {
		r.samples = append(r.samples, s)
	}
	r.mu.Unlock()
}

func (r *ExperimentRun) Samples() []HealthSample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HealthSample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Summary snapshots the run for reporting.
func (r *ExperimentRun) Summary() RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := RunSummary{
		RunID:      r.ID,
		Experiment: r.Spec.Name,
		Kind:       r.Spec.Kind,
		Target:     r.Spec.Target,
		Outcome:    r.state,
		Reason:     r.reason,
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
		EndedAt:    r.endedAt,
		Health:     summarizeHealth(r.samples),
	}
	if !r.startedAt.IsZero() && !r.endedAt.IsZero() {
		summary.Duration = r.endedAt.Sub(r.startedAt)
	}
	return summary
}

package chaos

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handle owns whatever an executor acquired. Release is idempotent; calls after
// the first return nil.
type Handle interface {
	Release() error
}

// Executor injects one kind of fault.
type Executor interface {
	Kind() FaultKind
	// Acquire takes hold of the perturbed resource. On error nothing is left held.
	Acquire(ctx context.Context, spec FaultSpec) (Handle, error)
}

// ResourceCeilings are hard per-kind caps applied regardless of governor limits.
type ResourceCeilings struct {
	MaxCores       int
	MaxMemoryMB    int
	MaxDiskMB      int
	MaxLatencyMS   int
	MinFreeDiskMB  int
	RestartTimeout time.Duration
}

func DefaultResourceCeilings() ResourceCeilings {
	return ResourceCeilings{
		MaxCores:       4,
		MaxMemoryMB:    512,
		MaxDiskMB:      256,
		MaxLatencyMS:   5000,
		MinFreeDiskMB:  1024,
		RestartTimeout: 30 * time.Second,
	}
}

// releaser runs a set of cleanup steps once. Every step runs even if an earlier one fails.
type releaser struct {
	kind  FaultKind
	once  sync.Once
	steps []func() error
	err   error
}

func newReleaser(kind FaultKind, steps ...func() error) *releaser {
	return &releaser{kind: kind, steps: steps}
}

func (r *releaser) Release() error {
	first := false
	r.once.Do(func() {
		first = true
		errs := make([]error, 0, len(r.steps))
		for _, step := range r.steps {
			errs = append(errs, runStep(step))
		}
		r.err = newReleaseError(r.kind, errs)
	})
	if !first {
		return nil
	}
	return r.err
}

// runStep converts a panic in a cleanup step into an error so later steps still run.
func runStep(step func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return step()
}

type panicError struct {
	value interface{}
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic during release: %v", p.value)
}

// ExecutorSet indexes executors by kind.
type ExecutorSet map[FaultKind]Executor

func NewExecutorSet(executors ...Executor) ExecutorSet {
	set := make(ExecutorSet, len(executors))
	for _, e := range executors {
		set[e.Kind()] = e
	}
	return set
}

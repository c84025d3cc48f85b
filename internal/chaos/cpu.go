package chaos

import (
	"context"
	"sync/atomic"
	"time"
)

// spinBatch is the number of iterations between stop-flag checks. It keeps a
// single batch well under a millisecond on current hardware.
const spinBatch = 50_000

// CPUStressExecutor burns `cores` busy workers until released or the duration passes.
type CPUStressExecutor struct {
	maxCores int
}

func NewCPUStressExecutor(ceilings ResourceCeilings) *CPUStressExecutor {
	return &CPUStressExecutor{maxCores: ceilings.MaxCores}
}

func (e *CPUStressExecutor) Kind() FaultKind { return KindCPUStress }

func (e *CPUStressExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	cores := spec.IntParam("cores")
	if cores < 1 {
		return nil, acquisitionFailed("cores must be at least 1")
	}
	if e.maxCores > 0 && cores > e.maxCores {
		return nil, acquisitionFailed("%d cores exceeds ceiling of %d", cores, e.maxCores)
	}
	if err := ctx.Err(); err != nil {
		return nil, acquisitionFailed("%v", err)
	}

	pool := &workerPool{}
	deadline := time.Now().Add(spec.Duration)
	for i := 0; i < cores; i++ {
		pool.Go(func(stop *atomic.Bool) {
			spin(stop, deadline)
		})
	}

	return newReleaser(KindCPUStress, func() error {
		pool.Stop()
		return nil
	}), nil
}

var spinSink atomic.Uint64

func spin(stop *atomic.Bool, deadline time.Time) {
	var x uint64 = 1
	for !stop.Load() && time.Now().Before(deadline) {
		for i := 0; i < spinBatch; i++ {
			x = x*6364136223846793005 + 1442695040888963407
		}
	}
	spinSink.Add(x)
}

package chaos

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProcessController stops and starts the process behind a target.
type ProcessController interface {
	Terminate(ctx context.Context, target string) error
	IsRunning(ctx context.Context, target string) (bool, error)
	Restart(ctx context.Context, target string) error
}

// TargetProber returns a health sample for a target. It never fails.
type TargetProber interface {
	Sample(ctx context.Context, target string) HealthSample
}

var restartPollInterval = 250 * time.Millisecond

// ServiceKillExecutor terminates a target and asks for it to be restarted.
// Release verifies the restart by polling health.
type ServiceKillExecutor struct {
	controller     ProcessController
	prober         TargetProber
	restartTimeout time.Duration
}

func NewServiceKillExecutor(controller ProcessController, prober TargetProber, ceilings ResourceCeilings) *ServiceKillExecutor {
	timeout := ceilings.RestartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ServiceKillExecutor{controller: controller, prober: prober, restartTimeout: timeout}
}

func (e *ServiceKillExecutor) Kind() FaultKind { return KindServiceKill }

func (e *ServiceKillExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	target := spec.Target
	if err := e.controller.Terminate(ctx, target); err != nil {
		return nil, acquisitionFailed("terminate %s: %v", target, err)
	}

	// Fire-and-forget; verified on release.
	restartErr := e.controller.Restart(ctx, target)

	return newReleaser(KindServiceKill, func() error {
		return e.verifyRestart(target, restartErr)
	}), nil
}

func (e *ServiceKillExecutor) verifyRestart(target string, earlier error) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.restartTimeout)
	defer cancel()

	if e.waitReachable(ctx, target) {
		return nil
	}

	running, err := e.controller.IsRunning(ctx, target)
	if err == nil && !running {
		if err := e.controller.Restart(ctx, target); err != nil {
			return errors.Join(earlier, fmt.Errorf("restart %s: %w", target, err))
		}
		if e.waitReachable(ctx, target) {
			return nil
		}
	}
	return errors.Join(earlier, err, fmt.Errorf("restart of %s not verified within %v", target, e.restartTimeout))
}

func (e *ServiceKillExecutor) waitReachable(ctx context.Context, target string) bool {
	ticker := time.NewTicker(restartPollInterval)
	defer ticker.Stop()
	for {
		if e.prober.Sample(ctx, target).TargetReachable {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

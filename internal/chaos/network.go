package chaos

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NetworkShaper applies and clears per-target delay rules.
type NetworkShaper interface {
	ApplyDelay(ctx context.Context, target string, delay time.Duration) error
	ClearDelay(ctx context.Context, target string) error
}

const clearTimeout = 5 * time.Second

type NetworkLatencyExecutor struct {
	shaper       NetworkShaper
	maxLatencyMS int
}

func NewNetworkLatencyExecutor(shaper NetworkShaper, ceilings ResourceCeilings) *NetworkLatencyExecutor {
	return &NetworkLatencyExecutor{shaper: shaper, maxLatencyMS: ceilings.MaxLatencyMS}
}

func (e *NetworkLatencyExecutor) Kind() FaultKind { return KindNetworkLatency }

func (e *NetworkLatencyExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	latency := spec.IntParam("latency_ms")
	if latency < 1 {
		return nil, acquisitionFailed("latency_ms must be at least 1")
	}
	if e.maxLatencyMS > 0 && latency > e.maxLatencyMS {
		return nil, acquisitionFailed("%d ms exceeds ceiling of %d ms", latency, e.maxLatencyMS)
	}

	target := spec.Target
	clearRule := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
		defer cancel()
		if err := e.shaper.ClearDelay(ctx, target); err != nil {
			return fmt.Errorf("clear delay on %s: %w", target, err)
		}
		return nil
	}

	if err := e.shaper.ApplyDelay(ctx, target, time.Duration(latency)*time.Millisecond); err != nil {
		// The rule may be half-installed; removal is always attempted.
		clearErr := clearRule()
		return nil, acquisitionFailed("apply delay on %s: %v", target, errors.Join(err, clearErr))
	}

	return newReleaser(KindNetworkLatency, clearRule), nil
}

package chaos

import "context"

// ProcessHangExecutor holds nothing. The run itself is the hang: a timed slot
// during which the target is considered unresponsive.
type ProcessHangExecutor struct{}

func NewProcessHangExecutor() *ProcessHangExecutor {
	return &ProcessHangExecutor{}
}

func (e *ProcessHangExecutor) Kind() FaultKind { return KindProcessHang }

func (e *ProcessHangExecutor) Acquire(ctx context.Context, spec FaultSpec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, acquisitionFailed("%v", err)
	}
	return newReleaser(KindProcessHang), nil
}

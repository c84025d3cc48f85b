package chaos

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSpec is returned when a fault definition fails validation at registration.
	ErrInvalidSpec = errors.New("invalid fault spec")
	// ErrAcquisitionFailed is returned when an executor cannot take hold of its resource.
	ErrAcquisitionFailed = errors.New("acquisition failed")
	ErrTargetBusy        = errors.New("target already has an active run")
	ErrCoolingDown       = errors.New("target is cooling down")
	ErrConcurrencyLimit  = errors.New("concurrency limit reached")
	ErrUnknownRun        = errors.New("unknown run")
	ErrUnknownExperiment = errors.New("unknown experiment")
	ErrNoExecutor        = errors.New("no executor for fault kind")
	ErrSchedulerStopped  = errors.New("scheduler stopped")
)

func invalidSpec(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

func acquisitionFailed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAcquisitionFailed, fmt.Sprintf(format, args...))
}

// ReleaseError collects every step that failed during a release. The remaining
// steps still run; the error is only ever logged by the scheduler.
type ReleaseError struct {
	Kind FaultKind
	Errs []error
}

func (e *ReleaseError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("release %s: %s", e.Kind, strings.Join(msgs, "; "))
}

func (e *ReleaseError) Unwrap() []error {
	return e.Errs
}

func newReleaseError(kind FaultKind, errs []error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &ReleaseError{Kind: kind, Errs: kept}
}

package chaos

import (
	"fmt"
	"sync"
)

// SafetyLimits are the thresholds the governor enforces. A zero value disables that check.
type SafetyLimits struct {
	MaxCPUPercent             float64
	MaxMemoryPercent          float64
	MaxDiskPercent            float64
	MaxConsecutiveUnreachable int
}

type Decision int

const (
	Continue Decision = iota
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "continue"
}

// Verdict is the governor's answer. Reason is set only for Abort.
type Verdict struct {
	Decision Decision
	Reason   string
}

func (v Verdict) IsAbort() bool {
	return v.Decision == Abort
}

func continueVerdict() Verdict {
	return Verdict{Decision: Continue}
}

func abortVerdict(format string, args ...interface{}) Verdict {
	return Verdict{Decision: Abort, Reason: fmt.Sprintf(format, args...)}
}

const (
	ReasonCPUExceeded         = "cpu limit exceeded"
	ReasonMemoryExceeded      = "memory limit exceeded"
	ReasonDiskExceeded        = "disk limit exceeded"
	ReasonMemoryWouldExceed   = "memory limit would be exceeded"
	ReasonDiskWouldExceed     = "disk limit would be exceeded"
	ReasonTargetUnreachable   = "target unreachable"
	ReasonOperatorAbort       = "operator abort"
	ReasonShutdown            = "scheduler shutdown"
	ReasonProbabilityGate     = "probability gate"
	ReasonNoBaselineAvailable = "no host baseline available"
)

// SafetyGovernor holds a short rolling window of samples per target. Verdicts
// depend only on the limits and that window.
type SafetyGovernor struct {
	limits     SafetyLimits
	windowSize int

	mu      sync.Mutex
	windows map[string][]HealthSample
}

func NewSafetyGovernor(limits SafetyLimits, windowSize int) *SafetyGovernor {
	if windowSize < limits.MaxConsecutiveUnreachable {
		windowSize = limits.MaxConsecutiveUnreachable
	}
	if windowSize <= 0 {
		windowSize = 1
	}
	return &SafetyGovernor{
		limits:     limits,
		windowSize: windowSize,
		windows:    make(map[string][]HealthSample),
	}
}

func (g *SafetyGovernor) Limits() SafetyLimits {
	return g.limits
}

// Evaluate appends the sample to its target's window and judges the window.
func (g *SafetyGovernor) Evaluate(sample HealthSample) Verdict {
	g.mu.Lock()
	window := append(g.windows[sample.Target], sample)
	if len(window) > g.windowSize {
		window = window[len(window)-g.windowSize:]
	}
	g.windows[sample.Target] = window
	snapshot := make([]HealthSample, len(window))
	copy(snapshot, window)
	g.mu.Unlock()

	return EvaluateWindow(g.limits, snapshot)
}

// Reset clears a target's window, used when a new run against it goes active.
func (g *SafetyGovernor) Reset(target string) {
	g.mu.Lock()
	delete(g.windows, target)
	g.mu.Unlock()
}

// EvaluateWindow judges the most recent sample plus the unreachable streak at the tail of window.
func EvaluateWindow(limits SafetyLimits, window []HealthSample) Verdict {
	if len(window) == 0 {
		return continueVerdict()
	}
	latest := window[len(window)-1]

	if v := checkUtilisation(limits, latest); v.IsAbort() {
		return v
	}

	if limits.MaxConsecutiveUnreachable > 0 {
		streak := 0
		for i := len(window) - 1; i >= 0 && !window[i].TargetReachable; i-- {
			streak++
		}
		if streak >= limits.MaxConsecutiveUnreachable {
			return abortVerdict("%s for %d consecutive samples", ReasonTargetUnreachable, streak)
		}
	}
	return continueVerdict()
}

func (l SafetyLimits) utilisationLimited() bool {
	return l.MaxCPUPercent > 0 || l.MaxMemoryPercent > 0 || l.MaxDiskPercent > 0
}

// checkUtilisation fails closed: a sample without a host reading cannot satisfy a limit.
func checkUtilisation(limits SafetyLimits, s HealthSample) Verdict {
	if s.HostError != "" && limits.utilisationLimited() {
		return abortVerdict(ReasonNoBaselineAvailable)
	}
	if limits.MaxCPUPercent > 0 && s.CPUPercent > limits.MaxCPUPercent {
		return abortVerdict(ReasonCPUExceeded)
	}
	if limits.MaxMemoryPercent > 0 && s.MemoryPercent > limits.MaxMemoryPercent {
		return abortVerdict(ReasonMemoryExceeded)
	}
	if limits.MaxDiskPercent > 0 && s.DiskPercent > limits.MaxDiskPercent {
		return abortVerdict(ReasonDiskExceeded)
	}
	return continueVerdict()
}

// Admit checks the static risk of starting spec given the current host sample
// and, for targeted faults, the target's latest sample.
func (g *SafetyGovernor) Admit(spec FaultSpec, host HealthSample, target *HealthSample) Verdict {
	return Admit(g.limits, spec, host, target)
}

// Admit is the pure form of SafetyGovernor.Admit.
func Admit(limits SafetyLimits, spec FaultSpec, host HealthSample, target *HealthSample) Verdict {
	const mib = 1 << 20

	if host.HostError != "" && limits.utilisationLimited() {
		return abortVerdict(ReasonNoBaselineAvailable)
	}

	switch spec.Kind {
	case KindMemoryStress:
		if limits.MaxMemoryPercent > 0 {
			if host.MemoryTotalBytes == 0 {
				return abortVerdict(ReasonNoBaselineAvailable)
			}
			projected := host.MemoryPercent + float64(spec.IntParam("mb"))*mib/float64(host.MemoryTotalBytes)*100
			if projected > limits.MaxMemoryPercent {
				return abortVerdict(ReasonMemoryWouldExceed)
			}
		}
	case KindDiskFill:
		if limits.MaxDiskPercent > 0 {
			if host.DiskTotalBytes == 0 {
				return abortVerdict(ReasonNoBaselineAvailable)
			}
			projected := host.DiskPercent + float64(spec.IntParam("size_mb"))*mib/float64(host.DiskTotalBytes)*100
			if projected > limits.MaxDiskPercent {
				return abortVerdict(ReasonDiskWouldExceed)
			}
		}
	}

	if v := checkUtilisation(limits, host); v.IsAbort() {
		return v
	}

	if spec.Target != HostTarget && target != nil && !target.TargetReachable {
		return abortVerdict(ReasonTargetUnreachable)
	}
	return continueVerdict()
}

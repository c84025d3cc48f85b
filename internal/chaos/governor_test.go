package chaos

import (
	"strings"
	"testing"
	"time"
)

func reachable(target string) HealthSample {
	return HealthSample{Timestamp: time.Now(), Target: target, TargetReachable: true, CPUPercent: 10, MemoryPercent: 40, DiskPercent: 50}
}

func unreachable(target string) HealthSample {
	s := reachable(target)
	s.TargetReachable = false
	return s
}

func TestEvaluateWindow(t *testing.T) {
	limits := SafetyLimits{MaxCPUPercent: 90, MaxMemoryPercent: 80, MaxDiskPercent: 95, MaxConsecutiveUnreachable: 3}

	hot := reachable("api")
	hot.CPUPercent = 95
	full := reachable("api")
	full.MemoryPercent = 85
	disk := reachable("api")
	disk.DiskPercent = 99
	blind := reachable("api")
	blind.CPUPercent, blind.MemoryPercent, blind.DiskPercent = 0, 0, 0
	blind.HostError = "host stats unavailable"

	tests := []struct {
		name   string
		window []HealthSample
		want   string
	}{
		{name: "empty window", window: nil},
		{name: "healthy", window: []HealthSample{reachable("api")}},
		{name: "cpu", window: []HealthSample{hot}, want: ReasonCPUExceeded},
		{name: "memory", window: []HealthSample{full}, want: ReasonMemoryExceeded},
		{name: "disk", window: []HealthSample{disk}, want: ReasonDiskExceeded},
		{name: "two unreachable", window: []HealthSample{unreachable("api"), unreachable("api")}},
		{name: "three unreachable", window: []HealthSample{unreachable("api"), unreachable("api"), unreachable("api")}, want: ReasonTargetUnreachable},
		{
			name:   "streak broken",
			window: []HealthSample{unreachable("api"), unreachable("api"), reachable("api"), unreachable("api")},
		},
		{name: "old breach ignored", window: []HealthSample{hot, reachable("api")}},
		{name: "host reading failed", window: []HealthSample{reachable("api"), blind}, want: ReasonNoBaselineAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateWindow(limits, tt.window)
			if tt.want == "" {
				if v.IsAbort() {
					t.Errorf("Expected continue, got abort: %s", v.Reason)
				}
				return
			}
			if !v.IsAbort() || !strings.HasPrefix(v.Reason, tt.want) {
				t.Errorf("Expected abort %q, got %v %q", tt.want, v.Decision, v.Reason)
			}
		})
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	s := reachable("api")
	s.CPUPercent, s.MemoryPercent, s.DiskPercent = 100, 100, 100
	window := []HealthSample{unreachable("api"), unreachable("api"), unreachable("api"), unreachable("api")}
	window = append(window, s)

	if v := EvaluateWindow(SafetyLimits{}, window); v.IsAbort() {
		t.Errorf("Expected no abort with zero limits, got %s", v.Reason)
	}
}

func TestGovernorUnreachableStreakPerTarget(t *testing.T) {
	g := NewSafetyGovernor(SafetyLimits{MaxConsecutiveUnreachable: 3}, 5)

	g.Evaluate(unreachable("a"))
	g.Evaluate(unreachable("b"))
	g.Evaluate(unreachable("a"))
	g.Evaluate(unreachable("b"))

	if v := g.Evaluate(unreachable("a")); !v.IsAbort() {
		t.Error("Expected abort on third unreachable sample for a")
	}
	if v := g.Evaluate(reachable("b")); v.IsAbort() {
		t.Error("Reachable sample for b should continue")
	}

	g.Reset("a")
	if v := g.Evaluate(unreachable("a")); v.IsAbort() {
		t.Error("Expected reset to clear the streak")
	}
}

func TestGovernorWindowBounded(t *testing.T) {
	g := NewSafetyGovernor(SafetyLimits{MaxConsecutiveUnreachable: 2}, 1)
	if g.windowSize != 2 {
		t.Errorf("Expected window widened to streak length 2, got %d", g.windowSize)
	}
	for i := 0; i < 50; i++ {
		g.Evaluate(reachable("a"))
	}
	if n := len(g.windows["a"]); n != 2 {
		t.Errorf("Expected window of 2, got %d", n)
	}
}

func TestAdmit(t *testing.T) {
	const gib = 1 << 30
	host := HealthSample{
		TargetReachable:  true,
		CPUPercent:       20,
		MemoryPercent:    50,
		MemoryTotalBytes: 1 * gib,
		DiskPercent:      50,
		DiskTotalBytes:   10 * gib,
	}
	mem := func(mb int) FaultSpec {
		s, _ := NewFaultSpec("mem", KindMemoryStress, time.Second, 1, "", map[string]interface{}{"mb": mb})
		return s
	}
	fill := func(mb int) FaultSpec {
		s, _ := NewFaultSpec("fill", KindDiskFill, time.Second, 1, "", map[string]interface{}{"size_mb": mb})
		return s
	}
	kill, _ := NewFaultSpec("kill", KindServiceKill, time.Second, 1, "api", nil)
	down := unreachable("api")
	failed := HealthSample{TargetReachable: true, HostError: "cpu stat unavailable"}
	noTotals := HealthSample{TargetReachable: true, MemoryPercent: 10, DiskPercent: 10}

	tests := []struct {
		name   string
		limits SafetyLimits
		spec   FaultSpec
		target *HealthSample
		host   *HealthSample
		want   string
	}{
		{name: "small allocation fits", limits: SafetyLimits{MaxMemoryPercent: 60}, spec: mem(50)},
		{name: "allocation would overflow", limits: SafetyLimits{MaxMemoryPercent: 60}, spec: mem(200), want: ReasonMemoryWouldExceed},
		{name: "already over limit", limits: SafetyLimits{MaxMemoryPercent: 40}, spec: mem(1), want: ReasonMemoryWouldExceed},
		{name: "disk fill fits", limits: SafetyLimits{MaxDiskPercent: 60}, spec: fill(100)},
		{name: "disk fill would overflow", limits: SafetyLimits{MaxDiskPercent: 55}, spec: fill(1024), want: ReasonDiskWouldExceed},
		{name: "host cpu already hot", limits: SafetyLimits{MaxCPUPercent: 10}, spec: mem(1), want: ReasonCPUExceeded},
		{name: "target down", limits: SafetyLimits{}, spec: kill, target: &down, want: ReasonTargetUnreachable},
		{name: "target up", limits: SafetyLimits{}, spec: kill, target: func() *HealthSample { s := reachable("api"); return &s }()},
		{name: "host reading failed", limits: SafetyLimits{MaxCPUPercent: 90}, spec: kill, host: &failed, want: ReasonNoBaselineAvailable},
		{name: "host reading failed without limits", limits: SafetyLimits{}, spec: mem(1), host: &failed},
		{name: "memory total unknown", limits: SafetyLimits{MaxMemoryPercent: 90}, spec: mem(1), host: &noTotals, want: ReasonNoBaselineAvailable},
		{name: "disk total unknown", limits: SafetyLimits{MaxDiskPercent: 90}, spec: fill(1), host: &noTotals, want: ReasonNoBaselineAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := host
			if tt.host != nil {
				h = *tt.host
			}
			v := Admit(tt.limits, tt.spec, h, tt.target)
			if tt.want == "" {
				if v.IsAbort() {
					t.Errorf("Expected admission, got %q", v.Reason)
				}
				return
			}
			if !v.IsAbort() || v.Reason != tt.want {
				t.Errorf("Expected reject %q, got %v %q", tt.want, v.Decision, v.Reason)
			}
		})
	}
}

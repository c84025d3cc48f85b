package chaos

import (
	"fmt"
	"strings"
)

type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

const (
	AlertCPU          = "cpu"
	AlertMemory       = "memory"
	AlertDisk         = "disk"
	AlertLoad         = "load"
	AlertHostSampling = "host_sampling"
	AlertUnreachable  = "target_unreachable"
	AlertResponseTime = "response_time"
	AlertErrorRate    = "error_rate"
	AlertStatus       = "target_status"
)

// Threshold pairs a warning and a critical bound. A zero bound is disabled.
type Threshold struct {
	Warning  float64
	Critical float64
}

func (t Threshold) level(value float64) (AlertLevel, float64, bool) {
	if t.Critical > 0 && value > t.Critical {
		return AlertCritical, t.Critical, true
	}
	if t.Warning > 0 && value > t.Warning {
		return AlertWarning, t.Warning, true
	}
	return "", 0, false
}

// AlertThresholds are advisory bounds below the governor's abort limits.
type AlertThresholds struct {
	CPUPercent       Threshold
	MemoryPercent    Threshold
	DiskPercent      Threshold
	LoadPerCore      Threshold
	ResponseTimeMS   Threshold
	ErrorRatePercent Threshold
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		CPUPercent:       Threshold{Warning: 80, Critical: 90},
		MemoryPercent:    Threshold{Warning: 80, Critical: 90},
		DiskPercent:      Threshold{Warning: 85, Critical: 95},
		LoadPerCore:      Threshold{Warning: 1, Critical: 2},
		ResponseTimeMS:   Threshold{Warning: 1000, Critical: 2000},
		ErrorRatePercent: Threshold{Warning: 5, Critical: 10},
	}
}

// Alert is one threshold crossing in a single sample.
type Alert struct {
	Target    string     `json:"target"`
	Level     AlertLevel `json:"level"`
	Kind      string     `json:"kind"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold,omitempty"`
	Message   string     `json:"message"`
}

// EvaluateAlerts checks host readings on host samples and health readings on
// target samples, so a host problem is reported once per sampling pass.
func EvaluateAlerts(th AlertThresholds, s HealthSample) []Alert {
	var alerts []Alert
	add := func(level AlertLevel, kind string, value, threshold float64, format string, args ...interface{}) {
		alerts = append(alerts, Alert{
			Target:    s.Target,
			Level:     level,
			Kind:      kind,
			Value:     value,
			Threshold: threshold,
			Message:   fmt.Sprintf(format, args...),
		})
	}

	if s.Target == HostTarget {
		if s.HostError != "" {
			add(AlertWarning, AlertHostSampling, 0, 0, "host sampling failed: %s", s.HostError)
			return alerts
		}
		if level, bound, ok := th.CPUPercent.level(s.CPUPercent); ok {
			add(level, AlertCPU, s.CPUPercent, bound, "%s cpu usage: %.1f%%", levelWord(level), s.CPUPercent)
		}
		if level, bound, ok := th.MemoryPercent.level(s.MemoryPercent); ok {
			add(level, AlertMemory, s.MemoryPercent, bound, "%s memory usage: %.1f%%", levelWord(level), s.MemoryPercent)
		}
		if level, bound, ok := th.DiskPercent.level(s.DiskPercent); ok {
			add(level, AlertDisk, s.DiskPercent, bound, "%s disk usage: %.1f%%", levelWord(level), s.DiskPercent)
		}
		if s.CPUCount > 0 {
			perCore := s.LoadAverage1m / float64(s.CPUCount)
			if level, bound, ok := th.LoadPerCore.level(perCore); ok {
				add(level, AlertLoad, s.LoadAverage1m, bound*float64(s.CPUCount),
					"%s system load: %.2f (cores: %d)", levelWord(level), s.LoadAverage1m, s.CPUCount)
			}
		}
		return alerts
	}

	if !s.TargetReachable {
		add(AlertCritical, AlertUnreachable, 0, 0, "target %s is unreachable", s.Target)
		return alerts
	}
	ms := float64(s.ResponseTime.Milliseconds())
	if level, bound, ok := th.ResponseTimeMS.level(ms); ok {
		add(level, AlertResponseTime, ms, bound, "%s response time: %.0fms", levelWord(level), ms)
	}
	rate := s.ErrorRate * 100
	if level, bound, ok := th.ErrorRatePercent.level(rate); ok {
		add(level, AlertErrorRate, rate, bound, "%s error rate: %.1f%%", levelWord(level), rate)
	}
	switch strings.ToLower(s.TargetStatus) {
	case "unhealthy":
		add(AlertCritical, AlertStatus, 0, 0, "target %s status is unhealthy", s.Target)
	case "degraded":
		add(AlertWarning, AlertStatus, 0, 0, "target %s status is degraded", s.Target)
	}
	return alerts
}

func levelWord(level AlertLevel) string {
	if level == AlertCritical {
		return "critical"
	}
	return "high"
}

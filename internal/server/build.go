package server

import (
	"fmt"

	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/config"
)

// BuildRegistry converts configured experiments into a validated registry.
func BuildRegistry(experiments []config.ExperimentConfig) (*chaos.Registry, error) {
	registry := chaos.NewRegistry()
	for i, exp := range experiments {
		kind, err := chaos.ParseFaultKind(exp.Kind)
		if err != nil {
			return nil, fmt.Errorf("experiment %d (%s): %w", i, exp.Name, err)
		}
		spec := chaos.FaultSpec{
			Name:        exp.Name,
			Kind:        kind,
			Duration:    exp.Duration,
			Probability: exp.Probability,
			Weight:      exp.Weight,
			Target:      exp.Target,
			Parameters:  exp.Parameters,
		}
		if _, err := registry.Register(spec); err != nil {
			return nil, fmt.Errorf("experiment %d: %w", i, err)
		}
	}
	return registry, nil
}

func safetyLimits(cfg config.SafetyConfig) chaos.SafetyLimits {
	return chaos.SafetyLimits{
		MaxCPUPercent:             cfg.MaxCPUPercent,
		MaxMemoryPercent:          cfg.MaxMemoryPercent,
		MaxDiskPercent:            cfg.MaxDiskPercent,
		MaxConsecutiveUnreachable: cfg.MaxConsecutiveUnreachable,
	}
}

func alertThresholds(cfg config.AlertsConfig) chaos.AlertThresholds {
	pair := func(th config.AlertThreshold) chaos.Threshold {
		return chaos.Threshold{Warning: th.Warning, Critical: th.Critical}
	}
	return chaos.AlertThresholds{
		CPUPercent:       pair(cfg.CPUPercent),
		MemoryPercent:    pair(cfg.MemoryPercent),
		DiskPercent:      pair(cfg.DiskPercent),
		LoadPerCore:      pair(cfg.LoadPerCore),
		ResponseTimeMS:   pair(cfg.ResponseTimeMS),
		ErrorRatePercent: pair(cfg.ErrorRatePercent),
	}
}

func resourceCeilings(cfg config.CeilingsConfig) chaos.ResourceCeilings {
	return chaos.ResourceCeilings{
		MaxCores:       cfg.MaxCores,
		MaxMemoryMB:    cfg.MaxMemoryMB,
		MaxDiskMB:      cfg.MaxDiskMB,
		MaxLatencyMS:   cfg.MaxLatencyMS,
		MinFreeDiskMB:  cfg.MinFreeDiskMB,
		RestartTimeout: cfg.RestartTimeout,
	}
}

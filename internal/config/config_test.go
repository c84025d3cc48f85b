package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Scheduler.Interval != 20*time.Second {
		t.Errorf("Expected default scheduler interval to be 20s, got %v", config.Scheduler.Interval)
	}

	if config.Scheduler.Selection != "weighted" {
		t.Errorf("Expected default selection to be weighted, got %s", config.Scheduler.Selection)
	}

	if config.Safety.MaxConsecutiveUnreachable != 3 {
		t.Errorf("Expected 3 consecutive unreachable samples, got %d", config.Safety.MaxConsecutiveUnreachable)
	}

	if len(config.Experiments) != 6 {
		t.Fatalf("Expected 6 default experiments, got %d", len(config.Experiments))
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestDefaultExperiments(t *testing.T) {
	kinds := make(map[string]bool)
	for _, exp := range DefaultExperiments() {
		kinds[exp.Kind] = true
		if exp.Duration <= 0 {
			t.Errorf("Experiment %q has non-positive duration", exp.Name)
		}
		if exp.Probability < 0 || exp.Probability > 1 {
			t.Errorf("Experiment %q has probability out of range: %f", exp.Name, exp.Probability)
		}
	}

	for _, kind := range []string{"cpu_stress", "memory_stress", "network_latency", "service_kill", "disk_fill", "process_hang"} {
		if !kinds[kind] {
			t.Errorf("Expected a default experiment of kind %s", kind)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test-config.yaml")

	configContent := `
scheduler:
  interval: 5s
  cooldown: 1m
  max_concurrent: 1
  selection: round_robin

safety:
  max_memory_percent: 80

alerts:
  enabled: true
  response_time_ms:
    warning: 250
    critical: 500

targets:
  api:
    health_url: "http://localhost:9000/health"
    process:
      command: "/usr/local/bin/api"
      args: ["--port", "9000"]

experiments:
  - name: "Kill API"
    kind: service_kill
    duration: 3s
    probability: 0.5
    target: api
  - name: "Big alloc"
    kind: memory_stress
    duration: 10s
    probability: 1
    parameters:
      mb: 64

logging:
  level: "debug"
  format: "text"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Scheduler.Interval != 5*time.Second {
		t.Errorf("Expected interval 5s, got %v", config.Scheduler.Interval)
	}

	if config.Scheduler.Selection != "round_robin" {
		t.Errorf("Expected round_robin selection, got %s", config.Scheduler.Selection)
	}

	if config.Alerts.ResponseTimeMS.Critical != 500 || config.Alerts.CPUPercent.Critical != 90 {
		t.Errorf("Expected file alert override on top of defaults, got %+v", config.Alerts)
	}

	if config.Safety.MaxMemoryPercent != 80 {
		t.Errorf("Expected memory limit 80, got %f", config.Safety.MaxMemoryPercent)
	}

	// Fields absent from the file keep their defaults
	if config.Safety.MaxCPUPercent != 95 {
		t.Errorf("Expected default CPU limit 95, got %f", config.Safety.MaxCPUPercent)
	}

	api, ok := config.Targets["api"]
	if !ok {
		t.Fatal("Expected target api to be loaded")
	}
	if api.Process.Command != "/usr/local/bin/api" || len(api.Process.Args) != 2 {
		t.Errorf("Unexpected process config: %+v", api.Process)
	}

	if len(config.Experiments) != 2 {
		t.Fatalf("Expected 2 experiments, got %d", len(config.Experiments))
	}

	if mb, ok := config.Experiments[1].Parameters["mb"].(int); !ok || mb != 64 {
		t.Errorf("Expected mb parameter 64, got %v", config.Experiments[1].Parameters["mb"])
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAOS_SCHEDULER_INTERVAL", "3s")
	t.Setenv("CHAOS_SCHEDULER_MAX_CONCURRENT", "5")
	t.Setenv("CHAOS_SAFETY_MAX_CPU_PERCENT", "70.5")
	t.Setenv("CHAOS_LOG_LEVEL", "error")
	t.Setenv("CHAOS_REDIS_ADDR", "redis:6379")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Scheduler.Interval != 3*time.Second {
		t.Errorf("Expected interval 3s, got %v", config.Scheduler.Interval)
	}

	if config.Scheduler.MaxConcurrent != 5 {
		t.Errorf("Expected max concurrent 5, got %d", config.Scheduler.MaxConcurrent)
	}

	if config.Safety.MaxCPUPercent != 70.5 {
		t.Errorf("Expected CPU limit 70.5, got %f", config.Safety.MaxCPUPercent)
	}

	if config.Logging.Level != "error" {
		t.Errorf("Expected log level error, got %s", config.Logging.Level)
	}

	if !config.Redis.Enabled || config.Redis.Addr != "redis:6379" {
		t.Errorf("Expected redis enabled at redis:6379, got %+v", config.Redis)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configFile, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "zero interval",
			modify:  func(c *Config) { c.Scheduler.Interval = 0 },
			wantErr: "scheduler interval",
		},
		{
			name:    "negative cooldown",
			modify:  func(c *Config) { c.Scheduler.Cooldown = -time.Second },
			wantErr: "cooldown",
		},
		{
			name:    "no concurrency",
			modify:  func(c *Config) { c.Scheduler.MaxConcurrent = 0 },
			wantErr: "max concurrent",
		},
		{
			name:    "bad selection",
			modify:  func(c *Config) { c.Scheduler.Selection = "fifo" },
			wantErr: "selection",
		},
		{
			name:    "memory limit over 100",
			modify:  func(c *Config) { c.Safety.MaxMemoryPercent = 120 },
			wantErr: "max_memory_percent",
		},
		{
			name:    "alert warning above critical",
			modify:  func(c *Config) { c.Alerts.CPUPercent = AlertThreshold{Warning: 95, Critical: 90} },
			wantErr: "alert threshold cpu_percent",
		},
		{
			name:    "negative alert threshold",
			modify:  func(c *Config) { c.Alerts.ErrorRatePercent.Warning = -1 },
			wantErr: "alert threshold error_rate_percent",
		},
		{
			name:    "zero probe timeout",
			modify:  func(c *Config) { c.Probe.Timeout = 0 },
			wantErr: "probe timeout",
		},
		{
			name:    "zero ceiling",
			modify:  func(c *Config) { c.Ceilings.MaxCores = 0 },
			wantErr: "ceilings",
		},
		{
			name: "unknown target",
			modify: func(c *Config) {
				c.Experiments = append(c.Experiments, ExperimentConfig{Name: "x", Kind: "service_kill", Target: "nope"})
			},
			wantErr: "unknown target",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "log level",
		},
		{
			name:    "redis without address",
			modify:  func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" },
			wantErr: "redis address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			err := config.Validate()
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	out := DefaultConfig().String()
	if !strings.Contains(out, "scheduler:") || !strings.Contains(out, "experiments:") {
		t.Errorf("Expected YAML rendering to include sections, got:\n%s", out)
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Scheduler   SchedulerConfig         `yaml:"scheduler" json:"scheduler"`
	Safety      SafetyConfig            `yaml:"safety" json:"safety"`
	Alerts      AlertsConfig            `yaml:"alerts" json:"alerts"`
	Probe       ProbeConfig             `yaml:"probe" json:"probe"`
	Ceilings    CeilingsConfig          `yaml:"ceilings" json:"ceilings"`
	Targets     map[string]TargetConfig `yaml:"targets" json:"targets"`
	Experiments []ExperimentConfig      `yaml:"experiments" json:"experiments"`
	Logging     LoggingConfig           `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig           `yaml:"metrics" json:"metrics"`
	Tracing     TracingConfig           `yaml:"tracing" json:"tracing"`
	Admin       AdminConfig             `yaml:"admin" json:"admin"`
	Results     ResultsConfig           `yaml:"results" json:"results"`
	Redis       RedisConfig             `yaml:"redis" json:"redis"`
	Shaping     ShapingConfig           `yaml:"shaping" json:"shaping"`
	DemoTarget  DemoTargetConfig        `yaml:"demo_target" json:"demo_target"`
	LoadGen     LoadGenConfig           `yaml:"loadgen" json:"loadgen"`
}

type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval" json:"interval"`
	Cooldown      time.Duration `yaml:"cooldown" json:"cooldown"`             // per target, after a run ends
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"` // across all targets
	Selection     string        `yaml:"selection" json:"selection"`           // weighted | round_robin
	Seed          int64         `yaml:"seed" json:"seed"`                     // 0 = time based
}

type SafetyConfig struct {
	MaxCPUPercent             float64 `yaml:"max_cpu_percent" json:"max_cpu_percent"`
	MaxMemoryPercent          float64 `yaml:"max_memory_percent" json:"max_memory_percent"`
	MaxDiskPercent            float64 `yaml:"max_disk_percent" json:"max_disk_percent"`
	MaxConsecutiveUnreachable int     `yaml:"max_consecutive_unreachable_samples" json:"max_consecutive_unreachable_samples"`
	WindowSize                int     `yaml:"window_size" json:"window_size"`
}

// AlertThreshold is a warning/critical pair; 0 disables that level.
type AlertThreshold struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

type AlertsConfig struct {
	Enabled          bool           `yaml:"enabled" json:"enabled"`
	CPUPercent       AlertThreshold `yaml:"cpu_percent" json:"cpu_percent"`
	MemoryPercent    AlertThreshold `yaml:"memory_percent" json:"memory_percent"`
	DiskPercent      AlertThreshold `yaml:"disk_percent" json:"disk_percent"`
	LoadPerCore      AlertThreshold `yaml:"load_per_core" json:"load_per_core"`
	ResponseTimeMS   AlertThreshold `yaml:"response_time_ms" json:"response_time_ms"`
	ErrorRatePercent AlertThreshold `yaml:"error_rate_percent" json:"error_rate_percent"`
}

type ProbeConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	HistorySize int           `yaml:"history_size" json:"history_size"`
	DiskPath    string        `yaml:"disk_path" json:"disk_path"`
}

type CeilingsConfig struct {
	MaxCores       int           `yaml:"max_cores" json:"max_cores"`
	MaxMemoryMB    int           `yaml:"max_memory_mb" json:"max_memory_mb"`
	MaxDiskMB      int           `yaml:"max_disk_mb" json:"max_disk_mb"`
	MaxLatencyMS   int           `yaml:"max_latency_ms" json:"max_latency_ms"`
	MinFreeDiskMB  int           `yaml:"min_free_disk_mb" json:"min_free_disk_mb"`
	DiskFillDir    string        `yaml:"disk_fill_dir" json:"disk_fill_dir"`
	RestartTimeout time.Duration `yaml:"restart_timeout" json:"restart_timeout"`
}

type TargetConfig struct {
	HealthURL string        `yaml:"health_url" json:"health_url"`
	Process   ProcessConfig `yaml:"process" json:"process"`
	// ProxyListen is the loopback address the latency proxy listens on for this target.
	ProxyListen string `yaml:"proxy_listen" json:"proxy_listen"`
	// Upstream is where the latency proxy forwards to.
	Upstream string `yaml:"upstream" json:"upstream"`
}

type ProcessConfig struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
	Dir     string   `yaml:"dir" json:"dir"`
}

type ExperimentConfig struct {
	Name        string                 `yaml:"name" json:"name"`
	Kind        string                 `yaml:"kind" json:"kind"`
	Duration    time.Duration          `yaml:"duration" json:"duration"`
	Probability float64                `yaml:"probability" json:"probability"`
	Weight      float64                `yaml:"weight" json:"weight"`
	Target      string                 `yaml:"target" json:"target"`
	Parameters  map[string]interface{} `yaml:"parameters" json:"parameters"`
}

type LoggingConfig struct {
	Level                string `yaml:"level" json:"level"`
	Format               string `yaml:"format" json:"format"`
	Output               string `yaml:"output" json:"output"`
	EnableRequestTracing bool   `yaml:"enable_request_tracing" json:"enable_request_tracing"`
	EnableCorrelationIDs bool   `yaml:"enable_correlation_ids" json:"enable_correlation_ids"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	ServiceName    string            `yaml:"service_name" json:"service_name"`
	ServiceVersion string            `yaml:"service_version" json:"service_version"`
	Environment    string            `yaml:"environment" json:"environment"`
	ExporterType   string            `yaml:"exporter_type" json:"exporter_type"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" json:"otlp_headers"`
	SamplingRatio  float64           `yaml:"sampling_ratio" json:"sampling_ratio"`
}

type AdminConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type ResultsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	DataPath   string `yaml:"data_path" json:"data_path"`
	InMemory   bool   `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes" json:"sync_writes"`
	MaxResults int    `yaml:"max_results" json:"max_results"` // in-memory recorder cap
}

type RedisConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Addr    string        `yaml:"addr" json:"addr"`
	DB      int           `yaml:"db" json:"db"`
	Stream  string        `yaml:"stream" json:"stream"`
	Channel string        `yaml:"channel" json:"channel"`
	MaxLen  int64         `yaml:"max_len" json:"max_len"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type ShapingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type DemoTargetConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	DegradedChance     float64       `yaml:"degraded_chance" json:"degraded_chance"`
	RecoveryInterval   time.Duration `yaml:"recovery_interval" json:"recovery_interval"`
	RecoveryChance     float64       `yaml:"recovery_chance" json:"recovery_chance"`
	SlowEndpointMaxDur time.Duration `yaml:"slow_endpoint_max" json:"slow_endpoint_max"`
}

type LoadGenConfig struct {
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	Rate     int           `yaml:"rate" json:"rate"` // requests per second
	Duration time.Duration `yaml:"duration" json:"duration"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Workers  uint64        `yaml:"workers" json:"workers"`
}

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Interval:      20 * time.Second,
			Cooldown:      30 * time.Second,
			MaxConcurrent: 2,
			Selection:     "weighted",
		},
		Safety: SafetyConfig{
			MaxCPUPercent:             95,
			MaxMemoryPercent:          90,
			MaxDiskPercent:            90,
			MaxConsecutiveUnreachable: 3,
			WindowSize:                10,
		},
		Alerts: AlertsConfig{
			Enabled:          true,
			CPUPercent:       AlertThreshold{Warning: 80, Critical: 90},
			MemoryPercent:    AlertThreshold{Warning: 80, Critical: 90},
			DiskPercent:      AlertThreshold{Warning: 85, Critical: 95},
			LoadPerCore:      AlertThreshold{Warning: 1, Critical: 2},
			ResponseTimeMS:   AlertThreshold{Warning: 1000, Critical: 2000},
			ErrorRatePercent: AlertThreshold{Warning: 5, Critical: 10},
		},
		Probe: ProbeConfig{
			Interval:    1 * time.Second,
			Timeout:     2 * time.Second,
			HistorySize: 600,
			DiskPath:    "/",
		},
		Ceilings: CeilingsConfig{
			MaxCores:       4,
			MaxMemoryMB:    512,
			MaxDiskMB:      256,
			MaxLatencyMS:   5000,
			MinFreeDiskMB:  1024,
			DiskFillDir:    os.TempDir(),
			RestartTimeout: 30 * time.Second,
		},
		Targets: map[string]TargetConfig{
			"web_service": {
				HealthURL: "http://localhost:8080/health",
			},
		},
		Experiments: DefaultExperiments(),
		Logging: LoggingConfig{
			Level:                "info",
			Format:               "json",
			Output:               "stdout",
			EnableRequestTracing: true,
			EnableCorrelationIDs: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "chaosmonkey",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			ExporterType:   "console",
			OTLPEndpoint:   "localhost:4318",
			OTLPHeaders:    make(map[string]string),
			SamplingRatio:  1.0,
		},
		Admin: AdminConfig{
			Enabled:      true,
			Host:         "localhost",
			Port:         8090,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Results: ResultsConfig{
			Enabled:    true,
			DataPath:   "./data/results",
			InMemory:   false,
			SyncWrites: false,
			MaxResults: 1000,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Stream:  "chaos:runs",
			Channel: "chaos:events",
			MaxLen:  10000,
			Timeout: 500 * time.Millisecond,
		},
		Shaping: ShapingConfig{
			Enabled: true,
		},
		DemoTarget: DemoTargetConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			DegradedChance:     0.1,
			RecoveryInterval:   30 * time.Second,
			RecoveryChance:     0.7,
			SlowEndpointMaxDur: 3 * time.Second,
		},
		LoadGen: LoadGenConfig{
			BaseURL:  "http://localhost:8080",
			Rate:     6,
			Duration: 5 * time.Minute,
			Timeout:  10 * time.Second,
			Workers:  3,
		},
	}
}

// DefaultExperiments is the stock experiment catalogue.
func DefaultExperiments() []ExperimentConfig {
	return []ExperimentConfig{
		{Name: "Light CPU Stress", Kind: "cpu_stress", Duration: 10 * time.Second, Probability: 0.3, Parameters: map[string]interface{}{"cores": 2}},
		{Name: "Memory Allocation Test", Kind: "memory_stress", Duration: 15 * time.Second, Probability: 0.2, Parameters: map[string]interface{}{"mb": 50}},
		{Name: "Network Latency Simulation", Kind: "network_latency", Duration: 8 * time.Second, Probability: 0.4, Target: "web_service", Parameters: map[string]interface{}{"latency_ms": 500}},
		{Name: "Service Kill Test", Kind: "service_kill", Duration: 5 * time.Second, Probability: 0.1, Target: "web_service"},
		{Name: "Temporary Disk Fill", Kind: "disk_fill", Duration: 12 * time.Second, Probability: 0.2, Parameters: map[string]interface{}{"size_mb": 20}},
		{Name: "Process Hang Simulation", Kind: "process_hang", Duration: 6 * time.Second, Probability: 0.3},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	// Scheduler
	if interval := os.Getenv("CHAOS_SCHEDULER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Scheduler.Interval = d
		}
	}
	if cooldown := os.Getenv("CHAOS_SCHEDULER_COOLDOWN"); cooldown != "" {
		if d, err := time.ParseDuration(cooldown); err == nil {
			config.Scheduler.Cooldown = d
		}
	}
	if maxConcurrent := os.Getenv("CHAOS_SCHEDULER_MAX_CONCURRENT"); maxConcurrent != "" {
		if n, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Scheduler.MaxConcurrent = n
		}
	}
	if selection := os.Getenv("CHAOS_SCHEDULER_SELECTION"); selection != "" {
		config.Scheduler.Selection = selection
	}

	// Safety limits
	if v := os.Getenv("CHAOS_SAFETY_MAX_CPU_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Safety.MaxCPUPercent = f
		}
	}
	if v := os.Getenv("CHAOS_SAFETY_MAX_MEMORY_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Safety.MaxMemoryPercent = f
		}
	}
	if v := os.Getenv("CHAOS_SAFETY_MAX_DISK_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Safety.MaxDiskPercent = f
		}
	}

	// Probe
	if interval := os.Getenv("CHAOS_PROBE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Probe.Interval = d
		}
	}
	if timeout := os.Getenv("CHAOS_PROBE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Probe.Timeout = d
		}
	}

	// Logging
	if level := os.Getenv("CHAOS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CHAOS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Admin API
	if port := os.Getenv("CHAOS_ADMIN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Admin.Port = p
		}
	}

	// Result sinks
	if dataPath := os.Getenv("CHAOS_RESULTS_DATA_PATH"); dataPath != "" {
		config.Results.DataPath = dataPath
	}
	if addr := os.Getenv("CHAOS_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
		config.Redis.Enabled = true
	}
}

func (c *Config) Validate() error {
	// Scheduler validation
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if c.Scheduler.Cooldown < 0 {
		return fmt.Errorf("scheduler cooldown cannot be negative")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent runs must be positive")
	}
	validSelections := map[string]bool{"weighted": true, "round_robin": true}
	if !validSelections[strings.ToLower(c.Scheduler.Selection)] {
		return fmt.Errorf("invalid selection strategy: %s", c.Scheduler.Selection)
	}

	// Safety validation
	for name, v := range map[string]float64{
		"max_cpu_percent":    c.Safety.MaxCPUPercent,
		"max_memory_percent": c.Safety.MaxMemoryPercent,
		"max_disk_percent":   c.Safety.MaxDiskPercent,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("invalid %s: %.1f", name, v)
		}
	}
	if c.Safety.MaxConsecutiveUnreachable < 0 {
		return fmt.Errorf("max consecutive unreachable samples cannot be negative")
	}

	// Alert validation
	for name, th := range map[string]AlertThreshold{
		"cpu_percent":        c.Alerts.CPUPercent,
		"memory_percent":     c.Alerts.MemoryPercent,
		"disk_percent":       c.Alerts.DiskPercent,
		"load_per_core":      c.Alerts.LoadPerCore,
		"response_time_ms":   c.Alerts.ResponseTimeMS,
		"error_rate_percent": c.Alerts.ErrorRatePercent,
	} {
		if th.Warning < 0 || th.Critical < 0 {
			return fmt.Errorf("alert threshold %s cannot be negative", name)
		}
		if th.Warning > 0 && th.Critical > 0 && th.Warning > th.Critical {
			return fmt.Errorf("alert threshold %s: warning %.1f above critical %.1f", name, th.Warning, th.Critical)
		}
	}

	// Probe validation
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if c.Probe.HistorySize <= 0 {
		return fmt.Errorf("probe history size must be positive")
	}

	// Ceilings validation
	if c.Ceilings.MaxCores <= 0 || c.Ceilings.MaxMemoryMB <= 0 || c.Ceilings.MaxDiskMB <= 0 || c.Ceilings.MaxLatencyMS <= 0 {
		return fmt.Errorf("resource ceilings must be positive")
	}
	if c.Ceilings.MinFreeDiskMB < 0 {
		return fmt.Errorf("min free disk cannot be negative")
	}

	// Experiments reference known targets
	for _, exp := range c.Experiments {
		if exp.Target == "" {
			continue
		}
		if _, ok := c.Targets[exp.Target]; !ok {
			return fmt.Errorf("experiment %q references unknown target %q", exp.Name, exp.Target)
		}
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Admin validation
	if c.Admin.Enabled {
		if c.Admin.Port < 0 || c.Admin.Port > 65535 {
			return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
		}
		if c.Metrics.Enabled && c.Metrics.Path == "" {
			return fmt.Errorf("metrics path cannot be empty when metrics are enabled")
		}
	}

	// Result sinks
	if c.Results.Enabled && !c.Results.InMemory && c.Results.DataPath == "" {
		return fmt.Errorf("results data path cannot be empty when not using in-memory storage")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty when redis is enabled")
	}

	return nil
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

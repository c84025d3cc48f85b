package chaos

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"chaosmonkey/internal/logging"
)

// HostStats is one reading of host utilisation.
type HostStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	MemoryTotalBytes uint64
	MemoryUsedBytes  uint64
	DiskPercent      float64
	DiskTotalBytes   uint64
	DiskFreeBytes    uint64
	LoadAverage1m    float64
	CPUCount         int
}

type HostSampler interface {
	SampleHost(ctx context.Context) (HostStats, error)
}

// GopsutilSampler reads host statistics through gopsutil.
type GopsutilSampler struct {
	DiskPath string
}

func NewGopsutilSampler(diskPath string) *GopsutilSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &GopsutilSampler{DiskPath: diskPath}
}

func (g *GopsutilSampler) SampleHost(ctx context.Context) (HostStats, error) {
	var stats HostStats

	// Interval 0 compares against the previous call, so it does not block.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, err
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.MemoryPercent = vm.UsedPercent
	stats.MemoryTotalBytes = vm.Total
	stats.MemoryUsedBytes = vm.Used

	usage, err := disk.UsageWithContext(ctx, g.DiskPath)
	if err != nil {
		return stats, err
	}
	stats.DiskPercent = usage.UsedPercent
	stats.DiskTotalBytes = usage.Total
	stats.DiskFreeBytes = usage.Free

	// Load average is advisory; platforms without it leave the fields zero.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.LoadAverage1m = avg.Load1
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCount = n
	}

	return stats, nil
}

// targetHealthBody is the subset of a target's health payload the probe reads.
type targetHealthBody struct {
	Status       string   `json:"status"`
	ResponseTime *float64 `json:"response_time"`
	ErrorRate    *float64 `json:"error_rate"`
}

// HealthProbe samples the host and the health endpoints of named targets.
type HealthProbe struct {
	client    *http.Client
	host      HostSampler
	logger    *logging.Logger
	mu        sync.RWMutex
	endpoints map[string]string
}

func NewHealthProbe(timeout time.Duration, host HostSampler, logger *logging.Logger) *HealthProbe {
	return &HealthProbe{
		client:    &http.Client{Timeout: timeout},
		host:      host,
		logger:    logger,
		endpoints: make(map[string]string),
	}
}

// SetEndpoint registers the health URL for a target.
func (p *HealthProbe) SetEndpoint(target, url string) {
	p.mu.Lock()
	p.endpoints[target] = url
	p.mu.Unlock()
}

func (p *HealthProbe) Targets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.endpoints))
	for t := range p.endpoints {
		out = append(out, t)
	}
	return out
}

// Sample never fails. An unreachable target is reported in the sample itself.
func (p *HealthProbe) Sample(ctx context.Context, target string) HealthSample {
	sample := p.hostSample(ctx)
	sample.Target = target
	if target == HostTarget {
		sample.TargetReachable = true
		sample.TargetStatus = "host"
		return sample
	}
	p.probeTarget(ctx, &sample)
	return sample
}

// SampleAll reads the host once and probes every listed target with that reading.
func (p *HealthProbe) SampleAll(ctx context.Context, targets []string) []HealthSample {
	base := p.hostSample(ctx)
	host := base
	host.TargetReachable = true
	host.TargetStatus = "host"

	out := []HealthSample{host}
	for _, target := range targets {
		if target == HostTarget {
			continue
		}
		s := base
		s.Target = target
		p.probeTarget(ctx, &s)
		out = append(out, s)
	}
	return out
}

func (p *HealthProbe) hostSample(ctx context.Context) HealthSample {
	sample := HealthSample{Timestamp: time.Now()}
	if p.host == nil {
		return sample
	}
	stats, err := p.host.SampleHost(ctx)
	if err != nil {
		sample.HostError = err.Error()
		p.logger.Debug("Host sampling failed", "error", err)
	}
	sample.CPUPercent = stats.CPUPercent
	sample.MemoryPercent = stats.MemoryPercent
	sample.MemoryTotalBytes = stats.MemoryTotalBytes
	sample.MemoryUsedBytes = stats.MemoryUsedBytes
	sample.DiskPercent = stats.DiskPercent
	sample.DiskTotalBytes = stats.DiskTotalBytes
	sample.DiskFreeBytes = stats.DiskFreeBytes
	sample.LoadAverage1m = stats.LoadAverage1m
	sample.CPUCount = stats.CPUCount
	return sample
}

func (p *HealthProbe) probeTarget(ctx context.Context, sample *HealthSample) {
	p.mu.RLock()
	url, ok := p.endpoints[sample.Target]
	p.mu.RUnlock()
	if !ok {
		sample.TargetStatus = "unknown target"
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		sample.TargetStatus = "bad endpoint"
		return
	}
	logging.PropagateCorrelationID(ctx, req)

	start := time.Now()
	resp, err := p.client.Do(req)
	sample.ResponseTime = time.Since(start)
	if err != nil {
		sample.TargetStatus = "unreachable"
		p.logger.Debug("Target unreachable", "target", sample.Target, "error", err)
		return
	}
	defer resp.Body.Close()

	sample.TargetReachable = true
	sample.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		sample.TargetStatus = "healthy"
	} else {
		sample.TargetStatus = "degraded"
	}

	var body targetHealthBody
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || json.Unmarshal(data, &body) != nil {
		return
	}
	if body.Status != "" {
		sample.TargetStatus = body.Status
	}
	if body.ErrorRate != nil {
		sample.ErrorRate = *body.ErrorRate
	}
	if body.ResponseTime != nil && *body.ResponseTime > 0 {
		sample.ResponseTime = time.Duration(*body.ResponseTime * float64(time.Second))
	}
}

package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"

	"chaosmonkey/internal/config"
	"chaosmonkey/internal/logging"
)

// Endpoint is a path hit with relative frequency Weight.
type Endpoint struct {
	Path   string
	Weight int
}

// DefaultEndpoints mirrors the demo target's route mix.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Path: "/", Weight: 30},
		{Path: "/health", Weight: 20},
		{Path: "/api/data", Weight: 25},
		{Path: "/api/slow", Weight: 5},
		{Path: "/api/memory-intensive", Weight: 8},
		{Path: "/api/cpu-intensive", Weight: 7},
		{Path: "/api/database", Weight: 15},
		{Path: "/stats", Weight: 10},
	}
}

// weightedPicker is safe for concurrent use by vegeta workers.
type weightedPicker struct {
	mu        sync.Mutex
	rng       *rand.Rand
	endpoints []Endpoint
	total     int
}

func newWeightedPicker(endpoints []Endpoint, seed int64) (*weightedPicker, error) {
	total := 0
	for _, ep := range endpoints {
		if ep.Weight < 0 {
			return nil, fmt.Errorf("endpoint %s has negative weight", ep.Path)
		}
		total += ep.Weight
	}
	if total == 0 {
		return nil, fmt.Errorf("no endpoint has positive weight")
	}
	return &weightedPicker{rng: rand.New(rand.NewSource(seed)), endpoints: endpoints, total: total}, nil
}

func (p *weightedPicker) pick() string {
	p.mu.Lock()
	n := p.rng.Intn(p.total)
	p.mu.Unlock()
	for _, ep := range p.endpoints {
		if n < ep.Weight {
			return ep.Path
		}
		n -= ep.Weight
	}
	return p.endpoints[0].Path
}

// EndpointStats summarizes results for one path.
type EndpointStats struct {
	Path        string         `json:"path"`
	Requests    uint64         `json:"requests"`
	Success     float64        `json:"success_ratio"`
	MeanLatency time.Duration  `json:"mean_latency"`
	P95Latency  time.Duration  `json:"p95_latency"`
	StatusCodes map[string]int `json:"status_codes"`
}

// Report is the outcome of one attack.
type Report struct {
	Requests    uint64          `json:"requests"`
	Throughput  float64         `json:"throughput"`
	Success     float64         `json:"success_ratio"`
	MeanLatency time.Duration   `json:"mean_latency"`
	P50Latency  time.Duration   `json:"p50_latency"`
	P95Latency  time.Duration   `json:"p95_latency"`
	P99Latency  time.Duration   `json:"p99_latency"`
	MaxLatency  time.Duration   `json:"max_latency"`
	StatusCodes map[string]int  `json:"status_codes"`
	Errors      []string        `json:"errors,omitempty"`
	Endpoints   []EndpointStats `json:"endpoints"`
}

// Generator drives weighted GET traffic at a target with vegeta.
type Generator struct {
	cfg       config.LoadGenConfig
	base      *url.URL
	endpoints []Endpoint
	picker    *weightedPicker
	logger    *logging.Logger
	progress  time.Duration
}

func NewGenerator(cfg config.LoadGenConfig, endpoints []Endpoint, seed int64, logger *logging.Logger) (*Generator, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %d", cfg.Rate)
	}
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	picker, err := newWeightedPicker(endpoints, seed)
	if err != nil {
		return nil, err
	}
	return &Generator{
		cfg:       cfg,
		base:      base,
		endpoints: endpoints,
		picker:    picker,
		logger:    logger.WithField("component", "loadgen"),
		progress:  10 * time.Second,
	}, nil
}

func (g *Generator) targeter() vegeta.Targeter {
	return func(tgt *vegeta.Target) error {
		if tgt == nil {
			return vegeta.ErrNilTarget
		}
		tgt.Method = http.MethodGet
		tgt.URL = g.base.String() + g.picker.pick()
		tgt.Header = http.Header{"User-Agent": []string{"chaosmonkey-loadgen"}}
		return nil
	}
}

// Run attacks until the configured duration passes or ctx is cancelled.
func (g *Generator) Run(ctx context.Context) (*Report, error) {
	opts := []func(*vegeta.Attacker){
		vegeta.KeepAlive(true),
	}
	if g.cfg.Timeout > 0 {
		opts = append(opts, vegeta.Timeout(g.cfg.Timeout))
	}
	if g.cfg.Workers > 0 {
		opts = append(opts, vegeta.Workers(g.cfg.Workers))
	}
	attacker := vegeta.NewAttacker(opts...)
	rate := vegeta.Rate{Freq: g.cfg.Rate, Per: time.Second}

	g.logger.Info("Starting load test",
		"base_url", g.base.String(),
		"rate", g.cfg.Rate,
		"duration", g.cfg.Duration.String(),
		"endpoints", len(g.endpoints),
	)

	var total vegeta.Metrics
	perPath := make(map[string]*vegeta.Metrics)

	ticker := time.NewTicker(g.progress)
	defer ticker.Stop()

	results := attacker.Attack(g.targeter(), rate, g.cfg.Duration, "chaos-load")
	cancelled := false
loop:
	for {
		select {
		case res, ok := <-results:
			if !ok {
				break loop
			}
			total.Add(res)
			path := g.pathOf(res.URL)
			m, ok := perPath[path]
			if !ok {
				m = &vegeta.Metrics{}
				perPath[path] = m
			}
			m.Add(res)
		case <-ticker.C:
			g.logger.Info("Load test progress", "requests", total.Requests)
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				attacker.Stop()
			}
		}
	}

	total.Close()
	report := &Report{
		Requests:    total.Requests,
		Throughput:  total.Throughput,
		Success:     total.Success,
		MeanLatency: total.Latencies.Mean,
		P50Latency:  total.Latencies.P50,
		P95Latency:  total.Latencies.P95,
		P99Latency:  total.Latencies.P99,
		MaxLatency:  total.Latencies.Max,
		StatusCodes: total.StatusCodes,
		Errors:      total.Errors,
	}
	for path, m := range perPath {
		m.Close()
		report.Endpoints = append(report.Endpoints, EndpointStats{
			Path:        path,
			Requests:    m.Requests,
			Success:     m.Success,
			MeanLatency: m.Latencies.Mean,
			P95Latency:  m.Latencies.P95,
			StatusCodes: m.StatusCodes,
		})
	}
	sort.Slice(report.Endpoints, func(i, j int) bool { return report.Endpoints[i].Path < report.Endpoints[j].Path })

	g.logger.Info("Load test finished",
		"requests", report.Requests,
		"success_ratio", report.Success,
		"p95_ms", report.P95Latency.Milliseconds(),
		"cancelled", cancelled,
	)
	if cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func (g *Generator) pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

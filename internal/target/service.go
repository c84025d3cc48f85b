package target

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"chaosmonkey/internal/config"
	"chaosmonkey/internal/logging"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"

	dataErrorChance     = 0.05
	databaseErrorChance = 0.08
)

// Service is a small HTTP application with realistic latency and failure
// behaviour, used as a chaos target.
type Service struct {
	cfg    config.DemoTargetConfig
	logger *logging.Logger

	rngMu  sync.Mutex
	rng    *rand.Rand
	chance func() float64
	sleep  func(ctx context.Context, d time.Duration) bool

	startedAt time.Time
	requests  atomic.Int64
	errors    atomic.Int64
	degraded  atomic.Bool

	registry *prometheus.Registry
	served   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type Option func(*Service)

// WithChance replaces the random source used for failure decisions.
func WithChance(chance func() float64) Option {
	return func(s *Service) { s.chance = chance }
}

// WithSleep replaces simulated processing delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(s *Service) { s.sleep = sleep }
}

func NewService(cfg config.DemoTargetConfig, logger *logging.Logger, opts ...Option) *Service {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Service{
		cfg:       cfg,
		logger:    logger.WithField("component", "demo-target"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		startedAt: time.Now(),
		registry:  reg,
		served: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "demo_requests_total",
			Help: "Requests served by the demo target.",
		}, []string{"path", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "demo_request_duration_seconds",
			Help:    "Demo target request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
	s.chance = s.float
	s.sleep = sleepCtx
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) float() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Service) uniform(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(s.float()*float64(hi-lo))
}

func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(logging.CorrelationIDMiddleware(s.logger, "demo-target"))
	router.Use(logging.LoggingMiddleware(s.logger))
	router.Use(s.instrument)

	router.HandleFunc("/", s.Home).Methods(http.MethodGet)
	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/data", s.Data).Methods(http.MethodGet)
	router.HandleFunc("/api/slow", s.Slow).Methods(http.MethodGet)
	router.HandleFunc("/api/memory-intensive", s.MemoryIntensive).Methods(http.MethodGet)
	router.HandleFunc("/api/cpu-intensive", s.CPUIntensive).Methods(http.MethodGet)
	router.HandleFunc("/api/database", s.Database).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.Stats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.served.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
		s.latency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

// RunRecovery periodically clears the degraded state until ctx is cancelled.
func (s *Service) RunRecovery(ctx context.Context) {
	interval := s.cfg.RecoveryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recoverOnce()
		}
	}
}

func (s *Service) recoverOnce() bool {
	if s.degraded.Load() && s.chance() < s.cfg.RecoveryChance {
		s.degraded.Store(false)
		s.logger.Info("Health status recovered to healthy")
		return true
	}
	return false
}

func (s *Service) uptime() string {
	return time.Since(s.startedAt).Round(time.Second).String()
}

func (s *Service) errorRate() float64 {
	return float64(s.errors.Load()) / math.Max(float64(s.requests.Load()), 1)
}

func (s *Service) Home(w http.ResponseWriter, r *http.Request) {
	served := s.requests.Add(1)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Chaos demo target",
		"status":          "running",
		"uptime":          s.uptime(),
		"requests_served": served,
	})
}

// Health reports degraded with 503 on a configured fraction of calls.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.requests.Add(1)

	body := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    s.uptime(),
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		body["cpu_usage"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		body["memory_usage"] = vm.UsedPercent
	}

	if s.chance() < s.cfg.DegradedChance {
		s.degraded.Store(true)
		body["status"] = statusDegraded
		body["error_rate"] = s.errorRate()
		body["response_time"] = time.Since(start).Seconds()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	s.degraded.Store(false)
	body["status"] = statusHealthy
	body["requests_served"] = s.requests.Load()
	body["error_count"] = s.errors.Load()
	body["error_rate"] = s.errorRate()
	body["response_time"] = time.Since(start).Seconds()
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) Data(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	processing := s.uniform(100*time.Millisecond, 500*time.Millisecond)
	if !s.sleep(r.Context(), processing) {
		return
	}

	if s.chance() < dataErrorChance {
		s.errors.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Service temporarily unavailable"})
		return
	}

	values := make([]int, 10)
	for i := range values {
		values[i] = 1 + int(s.float()*100)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":              1 + int(s.float()*1000),
		"timestamp":       time.Now().Format(time.RFC3339),
		"processing_time": processing.Seconds(),
		"data":            values,
	})
}

func (s *Service) Slow(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	maxDelay := s.cfg.SlowEndpointMaxDur
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	delay := s.uniform(maxDelay/2, maxDelay)
	s.logger.WithContext(r.Context()).Info("Processing slow request", "delay_ms", delay.Milliseconds())
	if !s.sleep(r.Context(), delay) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Slow operation completed",
		"processing_time": delay.Seconds(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// MemoryIntensive allocates and sums roughly 8 MiB of floats.
func (s *Service) MemoryIntensive(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	rows := make([][]float64, 1000)
	var sum float64
	for i := range rows {
		rows[i] = make([]float64, 1000)
		for j := range rows[i] {
			rows[i][j] = float64(i*j%97) / 97
			sum += rows[i][j]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":          "Memory intensive operation completed",
		"result":           sum,
		"memory_allocated": "~8MB",
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

func (s *Service) CPUIntensive(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	start := time.Now()
	var result uint64
	for i := uint64(0); i < 1_000_000; i++ {
		result += i * i
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "CPU intensive operation completed",
		"result":          result,
		"processing_time": time.Since(start).Seconds(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

func (s *Service) Database(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	query := s.uniform(100*time.Millisecond, time.Second)
	if !s.sleep(r.Context(), query) {
		return
	}

	if s.chance() < databaseErrorChance {
		s.errors.Add(1)
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "Database connection timeout"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Database query completed",
		"query_time":    query.Seconds(),
		"records_found": 1 + int(s.float()*100),
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}

func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	health := statusHealthy
	if s.degraded.Load() {
		health = statusDegraded
	}
	system := map[string]interface{}{}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		system["cpu_usage"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		system["memory_usage"] = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(r.Context(), "/"); err == nil {
		system["disk_usage"] = du.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":         s.uptime(),
		"total_requests": s.requests.Load(),
		"error_count":    s.errors.Load(),
		"error_rate":     s.errorRate(),
		"health_status":  health,
		"system_info":    system,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

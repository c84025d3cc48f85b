package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chaos"

// ChaosMetrics exports run and health-sample metrics on a private registry.
type ChaosMetrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runsRejected *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   *prometheus.GaugeVec

	hostCPU        prometheus.Gauge
	hostMemory     prometheus.Gauge
	hostDisk       prometheus.Gauge
	targetUp       *prometheus.GaugeVec
	targetResponse *prometheus.HistogramVec
	alerts         *prometheus.CounterVec
}

func New() *ChaosMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &ChaosMetrics{
		registry: reg,
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Experiment runs that went active",
		}, []string{"kind", "target"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Experiment runs that reached completed or aborted",
		}, []string{"kind", "target", "outcome"}),
		runsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "Experiment runs rejected at admission",
		}, []string{"kind", "reason"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of active runs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind", "outcome"}),
		activeRuns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently holding a target",
		}, []string{"kind"}),
		hostCPU: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilisation from the latest sample",
		}),
		hostMemory: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Host memory utilisation from the latest sample",
		}),
		hostDisk: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_disk_percent",
			Help:      "Host disk utilisation from the latest sample",
		}),
		targetUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_up",
			Help:      "1 when the target's health endpoint answered",
		}, []string{"target"}),
		targetResponse: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_response_seconds",
			Help:      "Health endpoint response time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Advisory alerts raised from health samples",
		}, []string{"level", "kind"}),
	}
}

func targetLabel(target string) string {
	if target == "" {
		return "host"
	}
	return target
}

// reasonLabel keeps the reason label bounded; free-form errors collapse to a category.
func reasonLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "acquisition failed"):
		return "acquisition_failed"
	case strings.Contains(reason, "would be exceeded"), strings.Contains(reason, "limit exceeded"):
		return "safety"
	case strings.HasPrefix(reason, "no host baseline"):
		return "no_baseline"
	case strings.HasPrefix(reason, "target unreachable"):
		return "target_unreachable"
	case reason == "probability gate":
		return "probability"
	case strings.Contains(reason, "cooling down"):
		return "cooldown"
	case strings.Contains(reason, "active run"), strings.Contains(reason, "concurrency"):
		return "conflict"
	default:
		return "other"
	}
}

func (m *ChaosMetrics) RunStarted(kind, target string) {
	m.runsStarted.WithLabelValues(kind, targetLabel(target)).Inc()
	m.activeRuns.WithLabelValues(kind).Inc()
}

func (m *ChaosMetrics) RunFinished(kind, target, outcome string, duration time.Duration) {
	m.runsFinished.WithLabelValues(kind, targetLabel(target), outcome).Inc()
	m.runDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
	m.activeRuns.WithLabelValues(kind).Dec()
}

func (m *ChaosMetrics) RunRejected(kind, reason string) {
	m.runsRejected.WithLabelValues(kind, reasonLabel(reason)).Inc()
}

func (m *ChaosMetrics) ObserveSample(target string, cpu, memory, disk float64, reachable bool, responseTime time.Duration) {
	if target == "" {
		m.hostCPU.Set(cpu)
		m.hostMemory.Set(memory)
		m.hostDisk.Set(disk)
		return
	}
	up := 0.0
	if reachable {
		up = 1
		m.targetResponse.WithLabelValues(target).Observe(responseTime.Seconds())
	}
	m.targetUp.WithLabelValues(target).Set(up)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *ChaosMetrics) ObserveAlert(level, kind string) {
	m.alerts.WithLabelValues(level, kind).Inc()
}

func (m *ChaosMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ChaosMetrics) Registry() *prometheus.Registry {
	return m.registry
}

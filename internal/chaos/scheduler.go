package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chaosmonkey/internal/logging"
	"chaosmonkey/internal/tracing"
)

// SchedulerConfig controls tick cadence and run admission.
type SchedulerConfig struct {
	Interval       time.Duration
	Cooldown       time.Duration
	MaxConcurrent  int
	SampleInterval time.Duration
}

// Prober is the probe surface the scheduler needs.
type Prober interface {
	TargetProber
	SampleAll(ctx context.Context, targets []string) []HealthSample
	Targets() []string
}

// Observer receives run and sample events, typically for metrics.
type Observer interface {
	RunStarted(kind, target string)
	RunFinished(kind, target, outcome string, duration time.Duration)
	RunRejected(kind, reason string)
	ObserveSample(target string, cpu, memory, disk float64, reachable bool, responseTime time.Duration)
	ObserveAlert(level, kind string)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, string) {}
func (nopObserver) RunFinished(string, string, string, time.Duration) {}
func (nopObserver) RunRejected(string, string) {}
func (nopObserver) ObserveSample(string, float64, float64, float64, bool, time.Duration) {}
func (nopObserver) ObserveAlert(string, string) {}

type SchedulerOption func(*Scheduler)

func WithObserver(o Observer) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

// WithAlerts enables advisory alerts on every sample.
func WithAlerts(th AlertThresholds) SchedulerOption {
	return func(s *Scheduler) { s.alerts = &th }
}

func WithTracer(t trace.Tracer) SchedulerOption {
	return func(s *Scheduler) { s.tracer = t }
}

// WithCoin replaces the probability gate's random source. It must return values in [0, 1).
func WithCoin(coin func() float64) SchedulerOption {
	return func(s *Scheduler) { s.coin = coin }
}

// Scheduler drives experiment runs through admission, execution, release and cooldown.
type Scheduler struct {
	cfg       SchedulerConfig
	registry  *Registry
	selector  Selector
	governor  *SafetyGovernor
	executors ExecutorSet
	probe     Prober
	recorder  *ResultRecorder
	history   *HealthHistory
	logger    *logging.Logger
	observer  Observer
	tracer    trace.Tracer
	coin      func() float64
	alerts    *AlertThresholds

	mu        sync.Mutex
	active    map[string]*ExperimentRun // by target key
	runs      map[string]*ExperimentRun // by run ID
	lastEnded map[string]time.Time
	stopped   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(
	cfg SchedulerConfig,
	registry *Registry,
	selector Selector,
	governor *SafetyGovernor,
	executors ExecutorSet,
	probe Prober,
	recorder *ResultRecorder,
	history *HealthHistory,
	logger *logging.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex

	s := &Scheduler{
		cfg:       cfg,
		registry:  registry,
		selector:  selector,
		governor:  governor,
		executors: executors,
		probe:     probe,
		recorder:  recorder,
		history:   history,
		logger:    logger,
		observer:  nopObserver{},
		tracer:    otel.Tracer("chaosmonkey/scheduler"),
		coin: func() float64 {
			rngMu.Lock()
			defer rngMu.Unlock()
			return rng.Float64()
		},
		active:    make(map[string]*ExperimentRun),
		runs:      make(map[string]*ExperimentRun),
		lastEnded: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled or Stop is called, then releases every active run.
func (s *Scheduler) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.monitor(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Chaos scheduler started",
		"interval", s.cfg.Interval,
		"cooldown", s.cfg.Cooldown,
		"max_concurrent", s.cfg.MaxConcurrent,
		"experiments", s.registry.Len(),
	)

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrSchedulerStopped) {
				s.logger.WithError(err).Error("Scheduler tick failed")
			}
		}
	}
}

// Stop aborts every active run and waits for their release. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.stopCh)
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// Tick selects one eligible spec and attempts it. It returns a nil run when
// nothing was eligible.
func (s *Scheduler) Tick(ctx context.Context) (*ExperimentRun, error) {
	now := time.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	if len(s.runs) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		s.logger.Debug("Tick skipped, concurrency limit reached", "active", s.cfg.MaxConcurrent)
		return nil, nil
	}
	busy := make(map[string]bool, len(s.active))
	for key := range s.active {
		busy[key] = true
	}
	cooling := make(map[string]bool)
	for key, ended := range s.lastEnded {
		if now.Sub(ended) < s.cfg.Cooldown {
			cooling[key] = true
		}
	}
	s.mu.Unlock()

	eligible := s.registry.Filter(func(spec FaultSpec) bool {
		key := spec.TargetKey()
		return !busy[key] && !cooling[key]
	})
	spec, ok := s.selector.Select(eligible)
	if !ok {
		return nil, nil
	}
	return s.launch(ctx, spec, false)
}

// Trigger attempts a named experiment now. force skips the probability gate;
// safety, exclusion and cooldown checks still apply.
func (s *Scheduler) Trigger(ctx context.Context, name string, force bool) (*ExperimentRun, error) {
	spec, ok := s.registry.Get(name)
	if !ok {
		return nil, ErrUnknownExperiment
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrSchedulerStopped
	}
	return s.launch(ctx, spec, force)
}

func (s *Scheduler) launch(ctx context.Context, spec FaultSpec, force bool) (*ExperimentRun, error) {
	run := newExperimentRun(spec)
	if err := run.transition(StateAdmissionCheck, ""); err != nil {
		return nil, err
	}

	if !force && s.coin() >= spec.Probability {
		s.reject(ctx, run, ReasonProbabilityGate)
		return run, nil
	}

	if err := s.reserve(run); err != nil {
		s.reject(ctx, run, err.Error())
		return run, nil
	}

	samples := s.probe.SampleAll(ctx, []string{spec.TargetKey()})
	host := samples[0]
	var target *HealthSample
	if len(samples) > 1 {
		target = &samples[1]
	}
	if v := s.governor.Admit(spec, host, target); v.IsAbort() {
		s.abandon(run)
		s.logger.SafetyEvent(ctx, spec.Target, v.Reason, map[string]interface{}{
			"experiment":     spec.Name,
			"memory_percent": host.MemoryPercent,
			"cpu_percent":    host.CPUPercent,
			"disk_percent":   host.DiskPercent,
		})
		s.reject(ctx, run, v.Reason)
		return run, nil
	}

	executor, ok := s.executors[spec.Kind]
	if !ok {
		s.abandon(run)
		s.reject(ctx, run, ErrNoExecutor.Error())
		return run, nil
	}

	handle, err := executor.Acquire(ctx, spec)
	if err != nil {
		s.abandon(run)
		s.reject(ctx, run, err.Error())
		return run, nil
	}

	s.governor.Reset(spec.TargetKey())
	if err := run.transition(StateActive, ""); err != nil {
		handle.Release()
		s.abandon(run)
		return nil, err
	}
	if target != nil {
		run.addSample(*target)
	} else {
		run.addSample(host)
	}

	runCtx := logging.WithRunID(context.WithoutCancel(ctx), run.ID)
	_, span := s.tracer.Start(runCtx, "chaos.run",
		trace.WithAttributes(tracing.RunAttributes(run.ID, spec.Name, string(spec.Kind), spec.Target)...))

	s.observer.RunStarted(string(spec.Kind), spec.Target)
	s.logger.ExperimentEvent(runCtx, "started", run.ID, spec.Name, string(spec.Kind), spec.Target, map[string]interface{}{
		"duration": spec.Duration.String(),
	})

	go s.supervise(runCtx, run, handle, span)
	return run, nil
}

// reserve claims the run's target atomically.
func (s *Scheduler) reserve(run *ExperimentRun) error {
	key := run.Spec.TargetKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, busy := s.active[key]; busy {
		return ErrTargetBusy
	}
	if len(s.runs) >= s.cfg.MaxConcurrent {
		return ErrConcurrencyLimit
	}
	if ended, ok := s.lastEnded[key]; ok && time.Since(ended) < s.cfg.Cooldown {
		return ErrCoolingDown
	}
	s.active[key] = run
	s.runs[run.ID] = run
	s.wg.Add(1)
	return nil
}

// abandon drops a reservation for a run that never went active.
func (s *Scheduler) abandon(run *ExperimentRun) {
	s.unreserve(run)
	s.wg.Done()
}

// unreserve frees the target without starting a cooldown.
func (s *Scheduler) unreserve(run *ExperimentRun) {
	key := run.Spec.TargetKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[key] == run {
		delete(s.active, key)
	}
	delete(s.runs, run.ID)
}

// finish stamps the terminal state and frees the target under one lock, so the
// next run on the target cannot start before this one has ended.
func (s *Scheduler) finish(run *ExperimentRun, outcome RunState, reason string) error {
	key := run.Spec.TargetKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := run.transition(outcome, reason)
	if s.active[key] == run {
		delete(s.active, key)
	}
	delete(s.runs, run.ID)
	if ended := run.EndedAt(); !ended.IsZero() {
		s.lastEnded[key] = ended
	} else {
		s.lastEnded[key] = time.Now()
	}
	return err
}

func (s *Scheduler) reject(ctx context.Context, run *ExperimentRun, reason string) {
	if err := run.transition(StateRejected, reason); err != nil {
		s.logger.WithError(err).Error("Run transition failed")
		return
	}
	spec := run.Spec
	s.observer.RunRejected(string(spec.Kind), reason)
	s.logger.ExperimentEvent(ctx, "rejected", run.ID, spec.Name, string(spec.Kind), spec.Target, map[string]interface{}{
		"reason": reason,
	})
	s.recorder.Record(context.WithoutCancel(ctx), run.Summary())
}

// supervise holds the run until its duration passes or it is aborted. The
// caller's context only bounds admission; the run's lifetime ends via Stop.
func (s *Scheduler) supervise(runCtx context.Context, run *ExperimentRun, handle Handle, span trace.Span) {
	defer s.wg.Done()
	defer span.End()

	timer := time.NewTimer(run.Spec.Duration)
	defer timer.Stop()

	outcome, reason := StateCompleted, ""
	select {
	case <-timer.C:
	case reason = <-run.abortCh:
		outcome = StateAborted
	case <-s.stopCh:
		outcome, reason = StateAborted, ReasonShutdown
	}

	spec := run.Spec
	if err := handle.Release(); err != nil {
		span.RecordError(err)
		s.logger.ExperimentEvent(runCtx, "release_failed", run.ID, spec.Name, string(spec.Kind), spec.Target, map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := s.finish(run, outcome, reason); err != nil {
		s.logger.WithError(err).Error("Run transition failed")
		return
	}

	summary := run.Summary()
	if outcome == StateAborted {
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	s.observer.RunFinished(string(spec.Kind), spec.Target, string(outcome), summary.Duration)
	s.logger.ExperimentEvent(runCtx, string(outcome), run.ID, spec.Name, string(spec.Kind), spec.Target, map[string]interface{}{
		"reason":      reason,
		"duration_ms": summary.Duration.Milliseconds(),
		"samples":     summary.Health.Samples,
	})
	s.recorder.Record(runCtx, summary)
}

func (s *Scheduler) monitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce probes the host and every known target, records the samples and
// lets the governor judge each active run.
func (s *Scheduler) SampleOnce(ctx context.Context) {
	s.mu.Lock()
	runs := make(map[string]*ExperimentRun, len(s.active))
	for key, run := range s.active {
		if run.State() == StateActive {
			runs[key] = run
		}
	}
	s.mu.Unlock()

	targets := s.probe.Targets()
	for key := range runs {
		if key != HostTarget && !contains(targets, key) {
			targets = append(targets, key)
		}
	}

	for _, sample := range s.probe.SampleAll(ctx, targets) {
		s.history.Append(sample)
		s.observer.ObserveSample(sample.Target, sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent,
			sample.TargetReachable, sample.ResponseTime)

		s.raiseAlerts(ctx, sample)

		run, ok := runs[sample.Target]
		if !ok {
			continue
		}
		run.addSample(sample)
		if v := s.governor.Evaluate(sample); v.IsAbort() {
			s.logger.SafetyEvent(ctx, sample.Target, v.Reason, map[string]interface{}{
				"run_id":           run.ID,
				"cpu_percent":      sample.CPUPercent,
				"memory_percent":   sample.MemoryPercent,
				"disk_percent":     sample.DiskPercent,
				"target_reachable": sample.TargetReachable,
			})
			run.Abort(v.Reason)
		}
	}
}

func (s *Scheduler) raiseAlerts(ctx context.Context, sample HealthSample) {
	if s.alerts == nil {
		return
	}
	for _, alert := range EvaluateAlerts(*s.alerts, sample) {
		s.observer.ObserveAlert(string(alert.Level), alert.Kind)
		s.logger.SafetyEvent(ctx, alert.Target, alert.Message, map[string]interface{}{
			"alert_level": string(alert.Level),
			"alert_kind":  alert.Kind,
			"value":       alert.Value,
			"threshold":   alert.Threshold,
		})
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Abort requests cancellation of an active run.
func (s *Scheduler) Abort(runID, reason string) error {
	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownRun
	}
	if reason == "" {
		reason = ReasonOperatorAbort
	}
	run.Abort(reason)
	return nil
}

// ActiveRuns returns the runs currently holding a target, oldest first.
func (s *Scheduler) ActiveRuns() []*ExperimentRun {
	s.mu.Lock()
	out := make([]*ExperimentRun, 0, len(s.runs))
	for _, run := range s.runs {
		if run.State() == StateActive {
			out = append(out, run)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt().Before(out[j].StartedAt())
	})
	return out
}

func (s *Scheduler) Registry() *Registry { return s.registry }
func (s *Scheduler) History() *HealthHistory { return s.history }
func (s *Scheduler) Recorder() *ResultRecorder { return s.recorder }
func (s *Scheduler) Governor() *SafetyGovernor { return s.governor }
func (s *Scheduler) Config() SchedulerConfig { return s.cfg }

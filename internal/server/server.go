package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"chaosmonkey/internal/api"
	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/config"
	"chaosmonkey/internal/logging"
	"chaosmonkey/internal/metrics"
	"chaosmonkey/internal/process"
	"chaosmonkey/internal/report"
	"chaosmonkey/internal/shaping"
	"chaosmonkey/internal/tracing"
)

const processGrace = 5 * time.Second

// Server wires the scheduler to its probes, executors, sinks and admin API.
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	tracing   *tracing.TracingService
	metrics   *metrics.ChaosMetrics
	scheduler *chaos.Scheduler
	store     *report.BadgerStore
	publisher *report.RedisPublisher
	shaper    *shaping.ProxyShaper
	processes *process.ExecController
	admin     *AdminServer
	ready     chan struct{}
	startTime time.Time
}

func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.NewLogger(&cfg.Logging)
	return newServer(cfg, logger)
}

func newServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing chaos monkey",
		"experiments", len(cfg.Experiments),
		"targets", len(cfg.Targets),
		"selection", cfg.Scheduler.Selection,
	)

	s := &Server{config: cfg, logger: logger, ready: make(chan struct{}), startTime: time.Now()}
	ok := false
	defer func() {
		if !ok {
			s.closeShaper(context.Background())
			s.closeSinks(context.Background())
		}
	}()

	tracingService, err := tracing.NewTracingService(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing service: %w", err)
	}
	s.tracing = tracingService

	registry, err := BuildRegistry(cfg.Experiments)
	if err != nil {
		return nil, err
	}

	host := chaos.NewGopsutilSampler(cfg.Probe.DiskPath)
	probe := chaos.NewHealthProbe(cfg.Probe.Timeout, host, logger)
	for name, target := range cfg.Targets {
		if target.HealthURL != "" {
			probe.SetEndpoint(name, target.HealthURL)
		}
	}

	executors, err := s.buildExecutors(probe)
	if err != nil {
		return nil, err
	}

	recorder := chaos.NewResultRecorder(cfg.Results.MaxResults, logger, report.NewLogReporter(logger))
	if err := s.attachSinks(recorder); err != nil {
		return nil, err
	}

	opts := []chaos.SchedulerOption{chaos.WithTracer(tracingService.GetTracer())}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		opts = append(opts, chaos.WithObserver(s.metrics))
	}
	if cfg.Alerts.Enabled {
		opts = append(opts, chaos.WithAlerts(alertThresholds(cfg.Alerts)))
	}

	s.scheduler = chaos.NewScheduler(
		chaos.SchedulerConfig{
			Interval:       cfg.Scheduler.Interval,
			Cooldown:       cfg.Scheduler.Cooldown,
			MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
			SampleInterval: cfg.Probe.Interval,
		},
		registry,
		chaos.NewSelector(cfg.Scheduler.Selection, cfg.Scheduler.Seed),
		chaos.NewSafetyGovernor(safetyLimits(cfg.Safety), cfg.Safety.WindowSize),
		executors,
		probe,
		recorder,
		chaos.NewHealthHistory(cfg.Probe.HistorySize),
		logger,
		opts...,
	)

	if cfg.Admin.Enabled {
		handlerOpts := []api.HandlerOption{api.WithProcesses(s.processes)}
		if s.store != nil {
			handlerOpts = append(handlerOpts, api.WithResultStore(s.store))
		}
		if s.metrics != nil {
			handlerOpts = append(handlerOpts, api.WithMetrics(s.metrics.Handler()))
		}
		s.admin = NewAdminServer(cfg.Admin, api.NewAdminHandler(s.scheduler, logger, handlerOpts...), logger)
	}

	ok = true
	return s, nil
}

// buildExecutors registers host-local executors always, and target executors
// only when a target is wired for them.
func (s *Server) buildExecutors(probe *chaos.HealthProbe) (chaos.ExecutorSet, error) {
	cfg := s.config
	ceilings := resourceCeilings(cfg.Ceilings)
	executors := []chaos.Executor{
		chaos.NewCPUStressExecutor(ceilings),
		chaos.NewMemoryStressExecutor(ceilings),
		chaos.NewDiskFillExecutor(cfg.Ceilings.DiskFillDir, ceilings),
		chaos.NewProcessHangExecutor(),
	}

	s.processes = process.NewExecController(processGrace, s.logger)
	managed := 0
	for name, target := range cfg.Targets {
		if target.Process.Command == "" {
			continue
		}
		err := s.processes.Register(name, process.Spec{
			Command: target.Process.Command,
			Args:    target.Process.Args,
			Dir:     target.Process.Dir,
		})
		if err != nil {
			return nil, err
		}
		managed++
	}
	if managed > 0 {
		executors = append(executors, chaos.NewServiceKillExecutor(s.processes, probe, ceilings))
	}

	if cfg.Shaping.Enabled {
		s.shaper = shaping.NewProxyShaper(s.logger)
		shaped := 0
		for name, target := range cfg.Targets {
			if target.ProxyListen == "" || target.Upstream == "" {
				continue
			}
			if _, err := s.shaper.Register(name, target.ProxyListen, target.Upstream); err != nil {
				return nil, err
			}
			shaped++
		}
		if shaped > 0 {
			executors = append(executors, chaos.NewNetworkLatencyExecutor(s.shaper, ceilings))
		}
	}

	return chaos.NewExecutorSet(executors...), nil
}

func (s *Server) attachSinks(recorder *chaos.ResultRecorder) error {
	cfg := s.config
	if cfg.Results.Enabled {
		store, err := report.NewBadgerStore(report.StoreConfig{
			DataPath:   cfg.Results.DataPath,
			InMemory:   cfg.Results.InMemory,
			SyncWrites: cfg.Results.SyncWrites,
			GCInterval: 10 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		s.store = store
		recorder.AddReporter(store)
	}

	if cfg.Redis.Enabled {
		s.publisher = report.NewRedisPublisher(report.RedisConfig{
			Addr:    cfg.Redis.Addr,
			DB:      cfg.Redis.DB,
			Stream:  cfg.Redis.Stream,
			Channel: cfg.Redis.Channel,
			MaxLen:  cfg.Redis.MaxLen,
			Timeout: cfg.Redis.Timeout,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.publisher.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Redis not reachable, publishing will be retried per run", "addr", cfg.Redis.Addr)
		}
		recorder.AddReporter(s.publisher)
	}
	return nil
}

// Start runs until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run starts managed processes, the admin API and the scheduler, and shuts
// everything down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting chaos monkey")

	for _, info := range s.processes.Info() {
		if err := s.processes.Start(ctx, info.Target); err != nil {
			s.logger.WithError(err).Error("Failed to start managed process", "target", info.Target)
		}
	}

	errChan := make(chan error, 2)
	if s.admin != nil {
		if err := s.admin.Listen(); err != nil {
			s.Shutdown(context.Background())
			return err
		}
		go func() {
			if err := s.admin.Serve(); err != nil {
				errChan <- fmt.Errorf("admin server failed: %w", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		s.scheduler.Run(runCtx)
	}()

	close(s.ready)
	s.logger.Info("Chaos monkey started",
		"admin_addr", s.AdminAddr(),
		"interval", s.config.Scheduler.Interval.String(),
		"experiments", s.scheduler.Registry().Len(),
	)

	var runErr error
	select {
	case runErr = <-errChan:
		s.logger.Error("Server encountered an error", "error", runErr.Error())
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal")
	}

	cancel()
	<-schedulerDone
	if err := s.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown releases every active fault before stopping transports and sinks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down chaos monkey")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s.scheduler.Stop()

	var errs []error
	if s.admin != nil {
		if err := s.admin.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeShaper(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.processes.StopAll(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.closeSinks(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Error during shutdown", "error", err.Error())
		return err
	}
	s.logger.Info("Shutdown completed", "uptime", s.GetUptime().String())
	return nil
}

func (s *Server) closeShaper(ctx context.Context) error {
	if s.shaper == nil {
		return nil
	}
	err := s.shaper.Close(ctx)
	s.shaper = nil
	if err != nil {
		return fmt.Errorf("close shaper: %w", err)
	}
	return nil
}

func (s *Server) closeSinks(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close result store: %w", err))
		}
		s.store = nil
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		s.publisher = nil
	}
	if s.tracing != nil {
		if err := s.tracing.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close tracing: %w", err))
		}
		s.tracing = nil
	}
	return errors.Join(errs...)
}

func (s *Server) Scheduler() *chaos.Scheduler { return s.scheduler }

// Ready is closed once the admin API is listening and the scheduler is running.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chaosmonkey/internal/config"
	"chaosmonkey/internal/logging"
	"chaosmonkey/internal/target"
)

func main() {
	var configPath string
	var port int
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.IntVar(&port, "port", 0, "Listen port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if port > 0 {
		cfg.DemoTarget.Port = port
	}

	logger := logging.NewLogger(&cfg.Logging)
	svc := target.NewService(cfg.DemoTarget, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go svc.RunRecovery(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.DemoTarget.Host, cfg.DemoTarget.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting demo target", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Demo target failed")
		os.Exit(1)
	}
	logger.Info("Demo target stopped")
}

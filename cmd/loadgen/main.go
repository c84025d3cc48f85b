package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chaosmonkey/internal/config"
	"chaosmonkey/internal/loadgen"
	"chaosmonkey/internal/logging"
)

func main() {
	var configPath, baseURL string
	var rate int
	var seed int64
	var duration time.Duration
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&baseURL, "url", "", "Target base URL (overrides config)")
	flag.IntVar(&rate, "rate", 0, "Requests per second (overrides config)")
	flag.DurationVar(&duration, "duration", 0, "Test duration (overrides config)")
	flag.Int64Var(&seed, "seed", 0, "Endpoint selection seed, 0 for time based")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if baseURL != "" {
		cfg.LoadGen.BaseURL = baseURL
	}
	if rate > 0 {
		cfg.LoadGen.Rate = rate
	}
	if duration > 0 {
		cfg.LoadGen.Duration = duration
	}

	logger := logging.NewLogger(&cfg.Logging)
	gen, err := loadgen.NewGenerator(cfg.LoadGen, loadgen.DefaultEndpoints(), seed, logger)
	if err != nil {
		log.Fatalf("Failed to create load generator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := gen.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Load test failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(report)
}

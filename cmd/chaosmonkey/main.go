package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"chaosmonkey/internal/config"
	"chaosmonkey/internal/server"
)

func main() {
	var configPath string
	var printConfig bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&printConfig, "print-config", false, "Print the effective configuration and exit")
	flag.Usage = printUsage
	flag.Parse()

	if _, err := os.Stat(configPath); os.IsNotExist(err) && configPath == "config.yaml" {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if printConfig {
		fmt.Print(cfg.String())
		return
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func printUsage() {
	fmt.Printf(`Chaos Monkey

Injects controlled faults (CPU, memory, disk, latency, process kill, hang)
into a host and its services, guarded by safety limits.

Usage:
  %s [options]

Options:
  -config string
        Path to configuration file (default "config.yaml")
  -print-config
        Print the effective configuration and exit
  -h, --help
        Show this help message

Environment Variables:
  Configuration can be overridden using environment variables with CHAOS_ prefix,
  for example CHAOS_SCHEDULER_INTERVAL, CHAOS_SAFETY_MAX_MEMORY_PERCENT,
  CHAOS_ADMIN_PORT and CHAOS_REDIS_ADDR.

Examples:
  # Start with defaults
  %s

  # Start with custom config file
  %s -config /etc/chaosmonkey/config.yaml

  # Tighter memory limit
  CHAOS_SAFETY_MAX_MEMORY_PERCENT=80 %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

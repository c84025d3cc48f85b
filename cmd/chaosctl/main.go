package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"chaosmonkey/pkg/client"
)

func main() {
	addr := flag.String("addr", "http://localhost:8090", "Admin API base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = *addr
	cfg.RequestTimeout = *timeout
	c, err := client.NewClient(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*2)
	defer cancel()

	var out interface{}
	switch args[0] {
	case "list":
		out, err = c.Experiments(ctx)
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ExitOnError)
		force := fs.Bool("force", false, "Skip the probability gate")
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			fatal(fmt.Errorf("usage: trigger [-force] <experiment>"))
		}
		out, err = c.Trigger(ctx, fs.Arg(0), *force)
	case "runs":
		out, err = c.ActiveRuns(ctx)
	case "abort":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: abort <run-id> [reason]"))
		}
		reason := ""
		if len(args) > 2 {
			reason = args[2]
		}
		err = c.Abort(ctx, args[1], reason)
		out = map[string]string{"run_id": args[1], "status": "aborting"}
	case "results":
		fs := flag.NewFlagSet("results", flag.ExitOnError)
		limit := fs.Int("limit", 20, "Maximum results")
		fs.Parse(args[1:])
		if fs.NArg() == 1 {
			out, err = c.Result(ctx, fs.Arg(0))
		} else {
			out, err = c.Results(ctx, *limit)
		}
	case "samples":
		fs := flag.NewFlagSet("samples", flag.ExitOnError)
		target := fs.String("target", "", "Target name, or host")
		since := fs.Duration("since", time.Minute, "Look back window")
		fs.Parse(args[1:])
		out, err = c.Samples(ctx, *target, time.Now().Add(-*since))
	case "processes":
		out, err = c.Processes(ctx)
	case "health":
		out, err = c.Health(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Chaos Monkey control tool

Usage:
  %s [-addr URL] <command> [args]

Commands:
  list                          List registered experiments
  trigger [-force] <name>       Start an experiment now
  runs                          Show active runs
  abort <run-id> [reason]       Abort an active run
  results [-limit N] [run-id]   Show recorded results
  samples [-target T] [-since D] Show health samples
  processes                     Show managed processes
  health                        Show service health
`, os.Args[0])
}

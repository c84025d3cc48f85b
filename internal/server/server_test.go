package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chaosmonkey/internal/api"
	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/config"
	"chaosmonkey/internal/testutil"
)

func TestBuildRegistry(t *testing.T) {
	registry, err := BuildRegistry(config.DefaultExperiments())
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	if registry.Len() != 6 {
		t.Errorf("Expected 6 experiments, got %d", registry.Len())
	}
	spec, ok := registry.Get("Memory Allocation Test")
	if !ok || spec.IntParam("mb") != 50 || spec.Weight != 1 {
		t.Errorf("Unexpected memory spec: %+v", spec)
	}
}

func TestBuildRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		exp  config.ExperimentConfig
	}{
		{"unknown kind", config.ExperimentConfig{Name: "x", Kind: "meteor", Duration: time.Second}},
		{"zero duration", config.ExperimentConfig{Name: "x", Kind: "cpu_stress"}},
		{"bad parameter", config.ExperimentConfig{Name: "x", Kind: "cpu_stress", Duration: time.Second, Parameters: map[string]interface{}{"cores": "many"}}},
		{"missing target", config.ExperimentConfig{Name: "x", Kind: "service_kill", Duration: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildRegistry([]config.ExperimentConfig{tt.exp}); err == nil {
				t.Error("Expected an error")
			}
		})
	}

	dup := config.ExperimentConfig{Name: "same", Kind: "process_hang", Duration: time.Second}
	if _, err := BuildRegistry([]config.ExperimentConfig{dup, dup}); err == nil {
		t.Error("Expected duplicate names to be rejected")
	}
}

func testServerConfig(t *testing.T) *config.Config {
	cfg := testutil.TestConfig()
	target := testutil.NewHealthTarget(t)
	cfg.Admin.Host = "127.0.0.1"
	cfg.Scheduler.Interval = time.Hour
	cfg.Probe.Interval = 50 * time.Millisecond
	cfg.Targets = map[string]config.TargetConfig{
		"web_service": {
			HealthURL:   target.HealthURL(),
			ProxyListen: "127.0.0.1:0",
			Upstream:    target.URL,
		},
	}
	cfg.Experiments = []config.ExperimentConfig{
		{Name: "hang", Kind: "process_hang", Duration: 10 * time.Second, Probability: 1},
		{Name: "latency", Kind: "network_latency", Duration: 10 * time.Second, Probability: 1, Target: "web_service", Parameters: map[string]interface{}{"latency_ms": 50}},
	}
	return cfg
}

func TestServerLifecycle(t *testing.T) {
	srv, err := newServer(testServerConfig(t), testutil.TestLogger())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not become ready")
	}
	base := "http://" + srv.AdminAddr()

	resp, err := http.Post(base+"/api/v1/experiments/latency/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("Trigger request failed: %v", err)
	}
	var trig api.TriggerResponse
	json.NewDecoder(resp.Body).Decode(&trig)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || trig.State != chaos.StateActive {
		t.Fatalf("Expected latency run to start, got %d %+v", resp.StatusCode, trig)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "chaos_runs_started_total") {
		t.Errorf("Expected chaos metrics in output")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Server did not shut down")
	}

	if len(srv.Scheduler().ActiveRuns()) != 0 {
		t.Error("Expected no active runs after shutdown")
	}
	results := srv.Scheduler().Recorder().Results()
	if len(results) != 1 || results[0].Outcome != chaos.StateAborted || results[0].Reason != chaos.ReasonShutdown {
		t.Errorf("Expected the run aborted by shutdown, got %+v", results)
	}
}

func TestServerWithoutShapingRejectsLatency(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Shaping.Enabled = false
	cfg.Admin.Enabled = false

	srv, err := newServer(cfg, testutil.TestLogger())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	defer srv.Shutdown(context.Background())

	run, err := srv.Scheduler().Trigger(context.Background(), "latency", true)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if run.State() != chaos.StateRejected || run.Reason() != chaos.ErrNoExecutor.Error() {
		t.Errorf("Expected rejection for missing executor, got %s %q", run.State(), run.Reason())
	}
}

func TestFailedConstructionReleasesProxyListeners(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	proxyAddr := ln.Addr().String()
	ln.Close()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	cfg := testServerConfig(t)
	target := cfg.Targets["web_service"]
	target.ProxyListen = proxyAddr
	cfg.Targets["web_service"] = target
	cfg.Results.Enabled = true
	cfg.Results.InMemory = false
	cfg.Results.DataPath = filepath.Join(blocker, "results")

	if _, err := newServer(cfg, testutil.TestLogger()); err == nil {
		t.Fatal("Expected result store failure")
	}

	testutil.WaitForCondition(t, func() bool {
		l, err := net.Listen("tcp", proxyAddr)
		if err != nil {
			return false
		}
		l.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

package process

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/logging"
)

var _ chaos.ProcessController = (*ExecController)(nil)

func sleeper(t *testing.T) *ExecController {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	c := NewExecController(500*time.Millisecond, logging.Discard())
	if err := c.Register("svc", Spec{Command: path, Args: []string{"60"}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	t.Cleanup(func() { c.StopAll(context.Background()) })
	return c
}

func TestTerminateAndRestart(t *testing.T) {
	c := sleeper(t)
	ctx := context.Background()

	if err := c.Start(ctx, "svc"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if running, err := c.IsRunning(ctx, "svc"); err != nil || !running {
		t.Fatalf("Expected running after start, got %v (%v)", running, err)
	}

	if err := c.Terminate(ctx, "svc"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if running, _ := c.IsRunning(ctx, "svc"); running {
		t.Error("Expected process stopped after terminate")
	}

	if err := c.Restart(ctx, "svc"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if running, _ := c.IsRunning(ctx, "svc"); !running {
		t.Error("Expected process running after restart")
	}

	info := c.Info()
	if len(info) != 1 || info[0].Restarts != 1 || info[0].PID == 0 {
		t.Errorf("Unexpected info: %+v", info)
	}
}

func TestTerminateNotRunning(t *testing.T) {
	c := sleeper(t)
	if err := c.Terminate(context.Background(), "svc"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestUnknownTarget(t *testing.T) {
	c := NewExecController(time.Second, logging.Discard())
	ctx := context.Background()

	if err := c.Restart(ctx, "ghost"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget, got %v", err)
	}
	if _, err := c.IsRunning(ctx, "ghost"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget, got %v", err)
	}
	if err := c.Register("bad", Spec{}); err == nil {
		t.Error("Expected registration without command to fail")
	}
}

func TestEscalatesToKill(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	c := NewExecController(200*time.Millisecond, logging.Discard())
	c.Register("stubborn", Spec{Command: sh, Args: []string{"-c", "trap '' TERM; while :; do sleep 0.05; done"}})
	ctx := context.Background()
	if err := c.Start(ctx, "stubborn"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := c.Terminate(ctx, "stubborn"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Error("Expected terminate to wait for the grace period before SIGKILL")
	}
	if running, _ := c.IsRunning(ctx, "stubborn"); running {
		t.Error("Expected process killed")
	}
}

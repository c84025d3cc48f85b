package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"

	"chaosmonkey/internal/logging"
)

var (
	ErrUnknownTarget = errors.New("no process registered for target")
	ErrNotRunning    = errors.New("process is not running")
)

// Spec describes how to launch a target's process.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

type managed struct {
	spec     Spec
	cmd      *exec.Cmd
	done     chan struct{}
	started  time.Time
	restarts int
}

func (m *managed) running() bool {
	if m.cmd == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Info is a point-in-time view of a managed process.
type Info struct {
	Target    string    `json:"target"`
	PID       int       `json:"pid,omitempty"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Restarts  int       `json:"restarts"`
}

// ExecController launches target processes and stops them with SIGTERM,
// escalating to SIGKILL after the grace period.
type ExecController struct {
	mu     sync.Mutex
	procs  map[string]*managed
	grace  time.Duration
	logger *logging.Logger
}

func NewExecController(grace time.Duration, logger *logging.Logger) *ExecController {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &ExecController{
		procs:  make(map[string]*managed),
		grace:  grace,
		logger: logger.WithField("component", "process"),
	}
}

func (c *ExecController) Register(target string, spec Spec) error {
	if spec.Command == "" {
		return fmt.Errorf("process for %s has no command", target)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.procs[target]; exists {
		return fmt.Errorf("process for %s already registered", target)
	}
	c.procs[target] = &managed{spec: spec}
	return nil
}

func (c *ExecController) get(target string) (*managed, error) {
	m, ok := c.procs[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return m, nil
}

// Start launches the target if it is not already running.
func (c *ExecController) Start(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(target)
	if err != nil {
		return err
	}
	return c.startLocked(target, m)
}

func (c *ExecController) startLocked(target string, m *managed) error {
	if m.running() {
		return nil
	}

	// Not bound to a request context: the process outlives the call.
	cmd := exec.Command(m.spec.Command, m.spec.Args...)
	cmd.Dir = m.spec.Dir
	cmd.Env = append(os.Environ(), m.spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", target, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(done)
		c.logger.Info("Process exited", "target", target, "pid", cmd.Process.Pid, "error", err)
	}()

	if m.cmd != nil {
		m.restarts++
	}
	m.cmd = cmd
	m.done = done
	m.started = time.Now()
	c.logger.Info("Process started", "target", target, "pid", cmd.Process.Pid, "command", m.spec.Command)
	return nil
}

// Terminate sends SIGTERM to the target's process group and SIGKILL if it
// is still alive after the grace period.
func (c *ExecController) Terminate(ctx context.Context, target string) error {
	c.mu.Lock()
	m, err := c.get(target)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !m.running() {
		c.mu.Unlock()
		return fmt.Errorf("terminate %s: %w", target, ErrNotRunning)
	}
	cmd, done := m.cmd, m.done
	c.mu.Unlock()

	pid := cmd.Process.Pid
	c.logger.WithContext(ctx).Warn("Sending signal", "target", target, "pid", pid, "signal", syscall.SIGTERM.String())
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal %s: %w", target, err)
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	c.logger.WithContext(ctx).Warn("Sending signal", "target", target, "pid", pid, "signal", syscall.SIGKILL.String())
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", target, err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(c.grace):
		return fmt.Errorf("process %s (pid %d) survived SIGKILL", target, pid)
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// IsRunning cross-checks the exit channel with the OS process table.
func (c *ExecController) IsRunning(ctx context.Context, target string) (bool, error) {
	c.mu.Lock()
	m, err := c.get(target)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	if !m.running() {
		c.mu.Unlock()
		return false, nil
	}
	pid := int32(m.cmd.Process.Pid)
	c.mu.Unlock()

	proc, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false, nil
	}
	running, err := proc.IsRunningWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", target, err)
	}
	if !running {
		return false, nil
	}
	status, err := proc.StatusWithContext(ctx)
	if err == nil && len(status) > 0 && status[0] == gopsproc.Zombie {
		return false, nil
	}
	return true, nil
}

func (c *ExecController) Restart(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(target)
	if err != nil {
		return err
	}
	return c.startLocked(target, m)
}

func (c *ExecController) Info() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Info, 0, len(c.procs))
	for target, m := range c.procs {
		info := Info{Target: target, Running: m.running(), Restarts: m.restarts, StartedAt: m.started}
		if m.cmd != nil && m.cmd.Process != nil {
			info.PID = m.cmd.Process.Pid
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// StopAll terminates every running process.
func (c *ExecController) StopAll(ctx context.Context) error {
	c.mu.Lock()
	var targets []string
	for target, m := range c.procs {
		if m.running() {
			targets = append(targets, target)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, target := range targets {
		if err := c.Terminate(ctx, target); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

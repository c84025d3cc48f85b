package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"chaosmonkey/internal/logging"
)

func TestRecorderRecordsOnce(t *testing.T) {
	var reported []string
	rec := NewResultRecorder(10, logging.Discard(), ReporterFunc(func(ctx context.Context, s RunSummary) error {
		reported = append(reported, s.RunID)
		return nil
	}))

	summary := RunSummary{RunID: "r1", Outcome: StateCompleted}
	if !rec.Record(context.Background(), summary) {
		t.Fatal("Expected first record to be accepted")
	}
	if rec.Record(context.Background(), summary) {
		t.Error("Expected duplicate record to be ignored")
	}
	if len(reported) != 1 {
		t.Errorf("Expected one report, got %d", len(reported))
	}
	if rec.Counts()[StateCompleted] != 1 {
		t.Errorf("Expected 1 completed, got %d", rec.Counts()[StateCompleted])
	}
}

func TestRecorderSurvivesReporterFailure(t *testing.T) {
	calls := 0
	failing := ReporterFunc(func(ctx context.Context, s RunSummary) error { return errors.New("sink down") })
	counting := ReporterFunc(func(ctx context.Context, s RunSummary) error { calls++; return nil })
	rec := NewResultRecorder(10, logging.Discard(), failing, counting)

	rec.Record(context.Background(), RunSummary{RunID: "r1", Outcome: StateAborted})
	if calls != 1 {
		t.Errorf("Expected later reporters to still run, got %d calls", calls)
	}
	if _, ok := rec.Get("r1"); !ok {
		t.Error("Expected summary stored despite reporter failure")
	}
}

func TestRecorderBounded(t *testing.T) {
	rec := NewResultRecorder(2, logging.Discard())
	for _, id := range []string{"a", "b", "c"} {
		rec.Record(context.Background(), RunSummary{RunID: id, Outcome: StateRejected})
	}
	results := rec.Results()
	if len(results) != 2 || results[0].RunID != "b" {
		t.Errorf("Expected [b c], got %+v", results)
	}
	if rec.Counts()[StateRejected] != 3 {
		t.Errorf("Counts should include evicted runs, got %d", rec.Counts()[StateRejected])
	}
}

func TestSummarizeHealth(t *testing.T) {
	now := time.Now()
	h := summarizeHealth([]HealthSample{
		{Timestamp: now, CPUPercent: 10, MemoryPercent: 40, TargetReachable: true},
		{Timestamp: now.Add(time.Second), CPUPercent: 90, MemoryPercent: 60, ResponseTime: 300 * time.Millisecond},
		{Timestamp: now.Add(2 * time.Second), CPUPercent: 20, MemoryPercent: 41, TargetReachable: true},
	})

	if h.Samples != 3 || h.Unreachable != 1 {
		t.Errorf("Unexpected counts: %+v", h)
	}
	if h.MaxCPUPercent != 90 || h.MinCPUPercent != 10 || h.AvgCPUPercent != 40 {
		t.Errorf("Unexpected cpu stats: %+v", h)
	}
	if h.MaxResponseTime != 300*time.Millisecond {
		t.Errorf("Expected max response 300ms, got %v", h.MaxResponseTime)
	}
	if h.MemoryDelta != 1 {
		t.Errorf("Expected memory delta 1, got %f", h.MemoryDelta)
	}
	if empty := summarizeHealth(nil); empty.Samples != 0 || empty.Baseline != nil {
		t.Errorf("Expected zero summary for no samples, got %+v", empty)
	}
}

func TestRunTransitions(t *testing.T) {
	run := newExperimentRun(FaultSpec{Name: "x", Kind: KindProcessHang, Duration: time.Second})

	if err := run.transition(StateActive, ""); err == nil {
		t.Error("Expected pending -> active to be illegal")
	}
	if err := run.transition(StateAdmissionCheck, ""); err != nil {
		t.Fatalf("pending -> admission_check: %v", err)
	}
	if err := run.transition(StateActive, ""); err != nil {
		t.Fatalf("admission_check -> active: %v", err)
	}
	run.Abort("first")
	run.Abort("second")
	if reason := <-run.abortCh; reason != "first" {
		t.Errorf("Expected first abort reason kept, got %q", reason)
	}
	if err := run.transition(StateAborted, "first"); err != nil {
		t.Fatalf("active -> aborted: %v", err)
	}
	if err := run.transition(StateCompleted, ""); err == nil {
		t.Error("Terminal state must be final")
	}

	select {
	case <-run.Done():
	default:
		t.Error("Expected done to be closed")
	}
	if s := run.Summary(); s.Outcome != StateAborted || s.Reason != "first" || s.Duration < 0 {
		t.Errorf("Unexpected summary: %+v", s)
	}
}

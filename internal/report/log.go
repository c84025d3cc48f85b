package report

import (
	"context"

	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/logging"
)

// LogReporter writes one structured line per finished run.
type LogReporter struct {
	logger *logging.Logger
}

func NewLogReporter(logger *logging.Logger) *LogReporter {
	return &LogReporter{logger: logger.WithField("component", "report")}
}

func (r *LogReporter) Report(ctx context.Context, s chaos.RunSummary) error {
	r.logger.WithContext(ctx).Info("Run summary",
		"run_id", s.RunID,
		"experiment", s.Experiment,
		"kind", string(s.Kind),
		"target", s.Target,
		"outcome", string(s.Outcome),
		"reason", s.Reason,
		"duration_ms", s.Duration.Milliseconds(),
		"samples", s.Health.Samples,
		"max_cpu_percent", s.Health.MaxCPUPercent,
		"max_memory_percent", s.Health.MaxMemoryPercent,
		"unreachable", s.Health.Unreachable,
	)
	return nil
}

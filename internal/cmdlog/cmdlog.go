package cmdlog

import (
	"time"

	"mirrorsync/internal/logging"
	"mirrorsync/internal/metrics"
)

// Run executes a CLI subcommand, counting it and logging the outcome.
func Run(cmd string, f func() error) error {
	start := time.Now()
	metrics.IncCommandRun(cmd)
	err := f()
	fields := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		metrics.IncCommandError(cmd)
		fields["error"] = err.Error()
		logging.Error(cmd+"_error", fields)
	} else {
		logging.Info(cmd+"_ok", fields)
	}
	return err
}

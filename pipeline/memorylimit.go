package pipeline

import (
	"context"
	"errors"
)

// ErrMemoryLimitExceeded is used to kill a StageProcess's child when its
// resident set size (summed over its whole process tree) crosses the
// configured memory-limit-bytes threshold.
var ErrMemoryLimitExceeded = errors.New("pipeline: memory limit exceeded")

// memoryWatchdogFunc starts a goroutine polling the RSS of pid's process
// tree once a second; if it ever reaches or exceeds limitBytes, onExceed
// is called exactly once and the goroutine exits. The returned func stops
// the watchdog early (e.g. once the process has already exited).
//
// It is nil on platforms without a /proc-based RSS reader; see
// memorylimit_linux.go, which backs it with internal/ptree's process-tree
// walk rather than a single pid's RSS.
var memoryWatchdogFunc func(ctx context.Context, pid int, limitBytes uint64, onExceed func(rss uint64)) (stop func())

// watchMemory starts the watchdog if the platform supports it, returning a
// no-op stop function otherwise.
func watchMemory(ctx context.Context, pid int, limitBytes uint64, onExceed func(rss uint64)) (stop func()) {
	if memoryWatchdogFunc == nil || limitBytes == 0 {
		return func() {}
	}
	return memoryWatchdogFunc(ctx, pid, limitBytes, onExceed)
}

//go:build linux

package pipeline

import (
	"context"
	"time"

	"github.com/ide-tools/buildpipeline/internal/ptree"
)

func init() {
	memoryWatchdogFunc = startMemoryWatchdog
}

// startMemoryWatchdog polls the RSS of pid's whole process tree once a
// second, summed over children via internal/ptree rather than a single
// pid, since a configure or build command commonly forks the tool that
// actually does the work.
func startMemoryWatchdog(ctx context.Context, pid int, limitBytes uint64, onExceed func(rss uint64)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rss, err := ptree.GetProcessTreeRSSAnon(pid)
				if err != nil {
					continue
				}
				if rss >= limitBytes {
					onExceed(rss)
					return
				}
			}
		}
	}()

	return cancel
}

package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// StageProcess runs a single subprocess to completion, fanning its stdout
// and stderr out line-by-line to the pipeline's BuildLog and honoring the
// configuration's memory-limit-bytes setting via the memory watchdog.
type StageProcess struct {
	StageBase

	launcher *SubprocessLauncher
}

// NewStageProcess wraps launcher as a Stage named name. Most callers reach
// this through Pipeline.AttachLauncher rather than calling it directly.
func NewStageProcess(name string, launcher *SubprocessLauncher) *StageProcess {
	sp := &StageProcess{launcher: launcher}
	sp.StageBase = NewStageBase(name, sp, false)
	return sp
}

// Launcher returns the subprocess launcher this stage runs, for addins and
// tests that need to inspect or adjust argv/flags after construction.
func (s *StageProcess) Launcher() *SubprocessLauncher { return s.launcher }

// Execute spawns the launcher's child against the pipeline's srcdir (unless
// the launcher already set its own cwd) with the configuration's
// environment overlaid, drains its output into the stage's log, and
// enforces config's memory-limit-bytes if present.
func (s *StageProcess) Execute(ctx context.Context, p *Pipeline) error {
	if s.launcher.cwd == "" {
		s.launcher.WithCwd(p.Srcdir())
	}
	s.launcher.WithEnvMap(p.Configuration().Environment)

	s.launcher.flags &^= FlagStderrSilence | FlagStderrMerge | FlagStdinInherit
	s.launcher.WithFlags(FlagStdoutPipe | FlagStderrPipe)

	if policy, err := buildIsolationPolicy(p.Configuration(), s.Name()); err != nil {
		return fmt.Errorf("resolving isolation policy: %w", err)
	} else if policy != nil {
		s.launcher.WithIsolation(policy)
	}

	s.Log(Stdout, "Executing "+s.launcher.String())
	s.Logger.Debug().Strs("argv", s.launcher.Argv()).Msg("spawning")

	sub, err := s.launcher.Spawn(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("spawn failed")
		return err
	}

	var drains errgroup.Group
	if out := sub.Stdout(); out != nil {
		drains.Go(func() error { return s.drain(Stdout, out) })
	}
	if errPipe := sub.Stderr(); errPipe != nil {
		drains.Go(func() error { return s.drain(Stderr, errPipe) })
	}

	var stopWatchdog func()
	if limit, ok := memoryLimitBytes(p.Configuration()); ok {
		stopWatchdog = watchMemory(ctx, sub.Pid(), limit, func(rss uint64) {
			s.Log(Stderr, fmt.Sprintf("killed: exceeded memory limit of %d bytes (rss %d)", limit, rss))
			sub.Kill(fmt.Errorf("%w: rss %d bytes exceeds limit %d", ErrMemoryLimitExceeded, rss, limit))
		})
	}

	err = sub.WaitCheck(ctx)
	if stopWatchdog != nil {
		stopWatchdog()
	}
	if drainErr := drains.Wait(); drainErr != nil && err == nil {
		err = drainErr
	}

	return err
}

// drain scans r line by line into the stage's log, reporting a scan
// failure (e.g. a line longer than the buffer) as an error rather than
// silently truncating output.
func (s *StageProcess) drain(stream Stream, r io.ReadCloser) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.Log(stream, scanner.Text())
	}
	return scanner.Err()
}

func memoryLimitBytes(config Configuration) (uint64, bool) {
	raw, ok := config.Internal["memory-limit-bytes"]
	if !ok {
		return 0, false
	}
	limit, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || limit == 0 {
		return 0, false
	}
	return limit, true
}

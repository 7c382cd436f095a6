package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StageOutcome classifies how a drive-loop step resolved a stage, for
// StageResult observers (the buildstatus package's metrics are the
// motivating consumer).
type StageOutcome int

const (
	StageExecuted StageOutcome = iota
	StageSkipped
	StageFailed
)

func (o StageOutcome) String() string {
	switch o {
	case StageExecuted:
		return "executed"
	case StageFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// StageResult is reported to OnStageResult observers once per drive-loop
// step that reaches a decision about an entry.
type StageResult struct {
	Phase    Phase
	Name     string
	Outcome  StageOutcome
	Duration time.Duration
}

// Pipeline owns the ordered stage list, the phase/priority comparator, the
// requested-phase mask, the execution cursor and drive loop, transient
// cleanup, and the srcdir/builddir conventions. It routes log output from
// every attached stage into its shared BuildLog.
type Pipeline struct {
	mu            sync.Mutex
	entries       []*PipelineEntry
	cursor        int
	requestedMask Phase
	seqnum        uint32
	entrySeq      uint64
	failed        bool
	running       bool

	srcdir   string
	builddir string
	config   Configuration

	log *BuildLog

	zerolog.Logger

	signalMu          sync.Mutex
	startedObservers  []func()
	finishedObservers []func(failed bool)
	phaseObservers    []func(Phase)
	resultObservers   []func(StageResult)

	addinMu sync.Mutex
	addins  []PipelineAddin
}

// New constructs a Pipeline rooted at srcdir, building into builddir, for
// the given Configuration, logging through logger with a "component":
// "pipeline" field (per bgpfix-bgpipe's per-component logger convention).
// builddir is created (with parents) the first time the pipeline executes,
// not at construction time.
func New(srcdir, builddir string, config Configuration, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cursor:   -1,
		srcdir:   srcdir,
		builddir: builddir,
		config:   config,
		log:      NewBuildLog(),
		Logger:   logger.With().Str("component", "pipeline").Str("config", config.ID).Logger(),
	}
}

// BuildLog returns the pipeline's shared log sink.
func (p *Pipeline) BuildLog() *BuildLog { return p.log }

// Srcdir returns the absolute path to the source tree.
func (p *Pipeline) Srcdir() string { return p.srcdir }

// Builddir returns the absolute build directory path.
func (p *Pipeline) Builddir() string { return p.builddir }

// Configuration returns the runtime configuration the pipeline was built
// with.
func (p *Pipeline) Configuration() Configuration { return p.config }

// Entries returns a snapshot of the currently attached entries in their
// execution order. Intended for addins and tests to inspect what a Load
// call attached; mutating the returned slice does not affect the
// pipeline.
func (p *Pipeline) Entries() []PipelineEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PipelineEntry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// isRunning reports whether ExecuteAsync is currently driving the loop.
func (p *Pipeline) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Attach validates phase, assigns a new id, appends and re-sorts the entry
// list, installs the pipeline's log observer on the stage, and returns the
// id. It returns 0 if phase is invalid or the pipeline is currently
// executing.
func (p *Pipeline) Attach(phase Phase, priority int32, stage Stage) EntryID {
	if !validAttachPhase(phase) {
		p.Warn().Uint32("phase", uint32(phase)).Str("stage", stage.Name()).Msg("rejecting attach: invalid phase")
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.Warn().Str("stage", stage.Name()).Msg("rejecting attach: pipeline already running")
		return 0
	}

	p.seqnum++
	p.entrySeq++
	entry := &PipelineEntry{
		ID:       EntryID(p.seqnum),
		Phase:    phase,
		Priority: priority,
		Stage:    stage,
		seq:      p.entrySeq,
	}
	stage.SetLogObserver(func(stream Stream, line string) {
		p.log.Log(stream, line)
	})
	if base, ok := stage.(interface{ setLogger(zerolog.Logger) }); ok {
		base.setLogger(p.Logger.With().Str("stage", stage.Name()).Logger())
	}

	p.entries = append(p.entries, entry)
	p.sortLocked()

	return entry.ID
}

// AttachLauncher wraps launcher in a StageProcess and attaches it.
func (p *Pipeline) AttachLauncher(phase Phase, priority int32, launcher *SubprocessLauncher) EntryID {
	return p.Attach(phase, priority, NewStageProcess(launcher.String(), launcher))
}

// Detach removes the entry whose id matches. No-op if not found. It does
// not interrupt in-flight execution.
func (p *Pipeline) Detach(id EntryID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		if e.ID == id {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// sortLocked re-sorts entries by the phase/whence/priority/insertion-order
// comparator. Callers must hold mu.
func (p *Pipeline) sortLocked() {
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].less(p.entries[j])
	})
}

// RequestPhase strips modifier/terminal bits and, if what remains is a
// single basic phase, adds it and every basic phase below it to the
// requested mask. Returns ErrInvalidPhase for anything else, and
// ErrPipelineStarted once execution has begun; in both cases the request
// is a no-op rather than a run failure.
func (p *Pipeline) RequestPhase(phase Phase) error {
	basic := phase.basic()
	if !validRequestPhase(basic) {
		p.Warn().Uint32("phase", uint32(phase)).Msg("rejecting phase request: invalid phase")
		return ErrInvalidPhase
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPipelineStarted
	}

	p.requestedMask |= downwardClosedMask(basic)
	return nil
}

// InvalidatePhase sets completed=false on every attached entry whose basic
// phase bit is set in mask. Safe to call at any time, including mid-run.
func (p *Pipeline) InvalidatePhase(mask Phase) {
	p.mu.Lock()
	entries := make([]*PipelineEntry, len(p.entries))
	copy(entries, p.entries)
	p.mu.Unlock()

	for _, e := range entries {
		if e.Phase.basic()&mask != 0 {
			e.Stage.SetCompleted(false)
		}
	}
}

// CurrentPhase reports NONE before the first step, the basic phase of the
// entry currently executing (or about to be) during a run, or the terminal
// FINISHED/FAILED marker once the run has ended.
func (p *Pipeline) CurrentPhase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPhaseLocked()
}

func (p *Pipeline) currentPhaseLocked() Phase {
	switch {
	case p.cursor == -1:
		return PhaseNone
	case p.cursor < len(p.entries):
		return p.entries[p.cursor].Phase.basic()
	case p.failed:
		return PhaseFailed
	default:
		return PhaseFinished
	}
}

// OnStarted registers an observer for the started() signal.
func (p *Pipeline) OnStarted(fn func()) {
	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	p.startedObservers = append(p.startedObservers, fn)
}

// OnFinished registers an observer for the finished(failed) signal.
func (p *Pipeline) OnFinished(fn func(failed bool)) {
	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	p.finishedObservers = append(p.finishedObservers, fn)
}

// OnPhaseChanged registers an observer for phase transitions observed
// during the drive loop.
func (p *Pipeline) OnPhaseChanged(fn func(Phase)) {
	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	p.phaseObservers = append(p.phaseObservers, fn)
}

// OnStageResult registers an observer fired once per drive-loop step that
// resolves an entry (executed, skipped, or failed), with its duration.
func (p *Pipeline) OnStageResult(fn func(StageResult)) {
	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	p.resultObservers = append(p.resultObservers, fn)
}

func (p *Pipeline) emitStageResult(result StageResult) {
	p.signalMu.Lock()
	observers := append([]func(StageResult){}, p.resultObservers...)
	p.signalMu.Unlock()
	for _, fn := range observers {
		fn(result)
	}
}

func (p *Pipeline) emitStarted() {
	p.signalMu.Lock()
	observers := append([]func(){}, p.startedObservers...)
	p.signalMu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

func (p *Pipeline) emitFinished(failed bool) {
	p.signalMu.Lock()
	observers := append([]func(bool){}, p.finishedObservers...)
	p.signalMu.Unlock()
	for _, fn := range observers {
		fn(failed)
	}
}

func (p *Pipeline) emitPhase(phase Phase) {
	p.signalMu.Lock()
	observers := append([]func(Phase){}, p.phaseObservers...)
	p.signalMu.Unlock()
	for _, fn := range observers {
		fn(phase)
	}
}

// ExecuteAsync runs the drive loop to completion: it clears the failed
// flag, emits started(), ensures builddir exists, then advances the cursor
// through the sorted entries, skipping completed stages and stages outside
// the requested mask, executing the rest in order via the query/pause
// handshake. The first stage failure halts the loop; either way the
// transient sweep runs and finished(failed) is emitted before returning.
//
// ExecuteAsync is itself a blocking call; callers that want a Pipeline
// running concurrently with other work should invoke it from their own
// goroutine, exactly as the caller of an *exec.Cmd would do with Start
// wired to a goroutine.
func (p *Pipeline) ExecuteAsync(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: already executing")
	}
	p.running = true
	p.failed = false
	p.cursor = -1
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.Info().Msg("started")
	p.emitStarted()

	if err := os.MkdirAll(p.builddir, 0o755); err != nil {
		p.mu.Lock()
		p.failed = true
		p.mu.Unlock()
		p.sweepTransient()
		p.Error().Err(err).Str("builddir", p.builddir).Msg("finished")
		p.emitFinished(true)
		return &FilesystemError{Op: "mkdir", Path: p.builddir, Err: err}
	}

	runErr := p.driveLoop(ctx)

	p.sweepTransient()

	p.mu.Lock()
	failed := p.failed
	p.mu.Unlock()

	if failed {
		p.Error().Err(runErr).Msg("finished")
	} else {
		p.Info().Msg("finished")
	}
	p.emitFinished(failed)

	return runErr
}

// driveLoop advances one entry at a time: pick the earliest unfinished
// entry whose phase is requested, query it, skip or execute it, then loop
// until every requested phase's entries are finished or one fails.
func (p *Pipeline) driveLoop(ctx context.Context) error {
	for {
		p.mu.Lock()
		p.cursor++
		cursor := p.cursor
		if cursor >= len(p.entries) {
			p.mu.Unlock()
			return nil
		}
		entry := p.entries[cursor]
		p.mu.Unlock()

		if entry.Stage.Completed() {
			p.emitStageResult(StageResult{Phase: entry.Phase.basic(), Name: entry.Stage.Name(), Outcome: StageSkipped})
			continue
		}

		if entry.Phase.basic()&p.requestedMaskSnapshot() == 0 {
			p.emitStageResult(StageResult{Phase: entry.Phase.basic(), Name: entry.Stage.Name(), Outcome: StageSkipped})
			continue
		}

		p.emitPhase(entry.Phase.basic())

		start := time.Now()
		err := entry.Stage.ExecuteWithQueryAsync(ctx, p)
		duration := time.Since(start)

		if err != nil {
			p.mu.Lock()
			p.failed = true
			p.cursor = len(p.entries)
			p.mu.Unlock()
			p.emitStageResult(StageResult{Phase: entry.Phase.basic(), Name: entry.Stage.Name(), Outcome: StageFailed, Duration: duration})
			return &stageError{Stage: entry.Stage.Name(), Err: err}
		}

		entry.Stage.SetCompleted(true)
		p.emitStageResult(StageResult{Phase: entry.Phase.basic(), Name: entry.Stage.Name(), Outcome: StageExecuted, Duration: duration})
	}
}

func (p *Pipeline) requestedMaskSnapshot() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestedMask
}

// sweepTransient removes every entry whose stage is transient, iterated
// from the end so indices stay valid as entries are removed.
func (p *Pipeline) sweepTransient() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.entries) - 1; i >= 0; i-- {
		if p.entries[i].Stage.Transient() {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
		}
	}
}

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Stage is the abstract unit of work attached to a Pipeline. Concrete
// stages (StageProcess, StageMkdirs, StageTransfer, or user-defined types)
// embed StageBase, which supplies the default lifecycle plumbing described
// in this interface; a concrete stage only needs to implement Execute (and
// optionally Query, or ExecuteAsync for a stage whose work doesn't reduce
// to a single synchronous call).
type Stage interface {
	// Name returns the stage's human-readable label.
	Name() string

	// Completed reports whether the stage's work is known current.
	Completed() bool

	// SetCompleted flips the completed flag. The pipeline calls this with
	// true after a successful execution, and invalidation calls it with
	// false.
	SetCompleted(completed bool)

	// Transient reports whether the entry must be removed after any run.
	Transient() bool

	// SetLogObserver installs the observer that Log forwards to. Called by
	// the pipeline at attachment time.
	SetLogObserver(observer LogObserver)

	// Log forwards a line to the installed observer, if any.
	Log(stream Stream, line string)

	// Execute is the synchronous hook for simple stages.
	Execute(ctx context.Context, p *Pipeline) error

	// ExecuteAsync is the preferred entry point. The default
	// implementation (on StageBase) offloads Execute to a worker
	// goroutine and respects ctx cancellation.
	ExecuteAsync(ctx context.Context, p *Pipeline) error

	// Query is emitted by the pipeline, wrapped in a Pause/Unpause pair,
	// before the stage is executed. Handlers may Pause/Unpause further to
	// perform asynchronous freshness checks, or call SetCompleted(true) to
	// skip execution outright. The default implementation does nothing.
	Query(ctx context.Context, p *Pipeline)

	// Pause increments the pause reference count.
	Pause()

	// Unpause decrements the pause reference count. When it reaches zero,
	// any execution deferred by ExecuteWithQueryAsync proceeds.
	Unpause()

	// ExecuteWithQueryAsync implements the query/pause handshake described
	// in the pipeline's drive loop: it pauses the stage, emits Query,
	// unpauses, and either skips, runs, or defers ExecuteAsync depending on
	// the resulting pause count and completed flag.
	ExecuteWithQueryAsync(ctx context.Context, p *Pipeline) error
}

// StageBase implements the bookkeeping shared by every Stage: the
// completed/transient flags, the log observer, and the pause/query
// handshake. Concrete stage types embed StageBase and must set Self to
// themselves so that StageBase's default methods can virtually dispatch to
// the concrete type's overrides of Execute/ExecuteAsync/Query.
type StageBase struct {
	// Self must be set by the concrete stage's constructor to the
	// concrete stage itself, so that the default ExecuteAsync and
	// ExecuteWithQueryAsync implementations call the right Execute/Query.
	Self Stage

	// Logger is a child of the owning pipeline's logger tagged with this
	// stage's name, installed on Attach; a no-op logger until then.
	zerolog.Logger

	name      string
	transient bool
	completed atomic.Bool
	observer  LogObserver

	mu           sync.Mutex
	pauseCount   int
	queryPending bool
	resolved     bool
	pendingCtx   context.Context
	pendingPipe  *Pipeline
	resultCh     chan error

	panicHandler StagePanicHandler
}

// NewStageBase initializes a StageBase for a concrete stage. self must be
// the concrete stage value (typically a pointer to the struct embedding
// this StageBase).
func NewStageBase(name string, self Stage, transient bool) StageBase {
	return StageBase{
		Self:      self,
		Logger:    zerolog.Nop(),
		name:      name,
		transient: transient,
	}
}

func (s *StageBase) Name() string { return s.name }

func (s *StageBase) Completed() bool { return s.completed.Load() }

func (s *StageBase) SetCompleted(completed bool) { s.completed.Store(completed) }

func (s *StageBase) Transient() bool { return s.transient }

func (s *StageBase) SetLogObserver(observer LogObserver) { s.observer = observer }

// setLogger installs logger, already tagged with this stage's name; called
// by Pipeline.Attach.
func (s *StageBase) setLogger(logger zerolog.Logger) { s.Logger = logger }

func (s *StageBase) Log(stream Stream, line string) {
	if s.observer != nil {
		s.observer(stream, line)
	}
}

// Execute is the default no-op hook; concrete stages override it.
func (s *StageBase) Execute(ctx context.Context, p *Pipeline) error {
	return nil
}

// ExecuteAsync offloads Self.Execute to a worker goroutine, returning early
// with a cancellation error if ctx is cancelled first. The goroutine is not
// killed on cancellation (Execute must observe ctx itself to stop early);
// this only controls how long the caller waits.
func (s *StageBase) ExecuteAsync(ctx context.Context, p *Pipeline) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- s.recoverAsError(r)
			}
		}()
		done <- s.Self.Execute(ctx, p)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &stageError{Stage: s.name, Err: ErrCancelled}
	}
}

// Query is the default no-op hook; concrete stages or addins override it
// to perform an external freshness check.
func (s *StageBase) Query(ctx context.Context, p *Pipeline) {}

func (s *StageBase) Pause() {
	s.mu.Lock()
	s.pauseCount++
	s.mu.Unlock()
}

func (s *StageBase) Unpause() {
	s.mu.Lock()
	if s.pauseCount > 0 {
		s.pauseCount--
	}
	s.mu.Unlock()
	s.maybeResolve()
}

// ExecuteWithQueryAsync implements the handshake in full; see the Stage
// interface doc and the pipeline's query/pause handshake design.
func (s *StageBase) ExecuteWithQueryAsync(ctx context.Context, p *Pipeline) error {
	s.mu.Lock()
	if s.queryPending {
		s.mu.Unlock()
		return ErrPending
	}
	s.queryPending = true
	s.resolved = false
	s.pendingCtx = ctx
	s.pendingPipe = p
	resultCh := make(chan error, 1)
	s.resultCh = resultCh
	s.mu.Unlock()

	s.Pause()
	s.Self.Query(ctx, p)
	s.Unpause()

	err := <-resultCh

	s.mu.Lock()
	s.queryPending = false
	s.resultCh = nil
	s.mu.Unlock()

	return err
}

// maybeResolve runs once the pause count returns to zero while a query is
// pending: it decides whether to skip (already completed), execute, or (if
// called again after the first resolution already fired) does nothing.
func (s *StageBase) maybeResolve() {
	s.mu.Lock()
	if s.pauseCount != 0 || !s.queryPending || s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	ctx, p, ch := s.pendingCtx, s.pendingPipe, s.resultCh
	s.mu.Unlock()

	go func() {
		if s.Completed() {
			ch <- nil
			return
		}
		ch <- s.Self.ExecuteAsync(ctx, p)
	}()
}

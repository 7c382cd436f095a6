package pipeline

import "context"

// StageFuncExecute is the work a StageFunc stage performs: arbitrary Go
// code run against the pipeline, rather than a subprocess or filesystem
// operation.
type StageFuncExecute func(ctx context.Context, p *Pipeline) error

// StageFunc wraps an ordinary function as a Stage, for small one-off
// lifecycle actions that don't warrant a dedicated type — e.g. stamping a
// build receipt, rewriting a generated file, or invoking a Go API instead
// of shelling out.
type StageFunc struct {
	StageBase

	execute StageFuncExecute
}

// NewStageFunc wraps execute as a Stage named name.
func NewStageFunc(name string, execute StageFuncExecute) *StageFunc {
	sf := &StageFunc{execute: execute}
	sf.StageBase = NewStageBase(name, sf, false)
	return sf
}

func (s *StageFunc) Execute(ctx context.Context, p *Pipeline) error {
	return s.execute(ctx, p)
}

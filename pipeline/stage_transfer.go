package pipeline

import "context"

// Transfer stands in for an external download/install operation, such as
// fetching a runtime or SDK, that a DOWNLOADS-phase stage waits on without
// driving itself.
type Transfer interface {
	// Wait blocks until the transfer completes, returning its error if any.
	Wait(ctx context.Context) error
}

// StageTransfer wraps a Transfer as a Stage: Execute just waits on it.
type StageTransfer struct {
	StageBase

	transfer Transfer
}

// NewStageTransfer wraps transfer as a Stage named name.
func NewStageTransfer(name string, transfer Transfer) *StageTransfer {
	st := &StageTransfer{transfer: transfer}
	st.StageBase = NewStageBase(name, st, false)
	return st
}

func (s *StageTransfer) Execute(ctx context.Context, p *Pipeline) error {
	return s.transfer.Wait(ctx)
}

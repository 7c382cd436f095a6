package pipeline

import "fmt"

// StagePanicHandler converts a recovered panic value into the error
// ExecuteAsync should return in its place.
type StagePanicHandler func(recovered any) error

// StagePanicHandlerAware lets a stage (or an addin wrapping one) install a
// custom StagePanicHandler; StageBase implements it directly, so any
// concrete stage gets this for free.
type StagePanicHandlerAware interface {
	SetPanicHandler(StagePanicHandler)
}

// SetPanicHandler installs handler, overriding the default that wraps the
// recovered value with fmt.Errorf.
func (s *StageBase) SetPanicHandler(handler StagePanicHandler) {
	s.panicHandler = handler
}

func (s *StageBase) recoverAsError(recovered any) error {
	if s.panicHandler != nil {
		return s.panicHandler(recovered)
	}
	return fmt.Errorf("stage %q panicked: %v", s.name, recovered)
}

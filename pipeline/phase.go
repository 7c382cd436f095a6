package pipeline

import (
	"fmt"
	"strings"
)

// Phase is a bit-flag value identifying a point in the build. Basic phases
// occupy the low 24 bits, one power-of-two bit each, in ascending execution
// order. BEFORE/AFTER are modifier bits that may be combined with exactly
// one basic phase on attachment. FINISHED/FAILED are terminal markers
// reported by CurrentPhase and are never attached to a stage.
type Phase uint32

// PhaseNone is returned by CurrentPhase before any stage has run.
const PhaseNone Phase = 0

const (
	// Basic phases, in ascending execution order.
	PhasePrepare Phase = 1 << iota
	PhaseDownloads
	PhaseDependencies
	PhaseAutogen
	PhaseConfigure
	PhaseBuild
	PhaseInstall
	PhaseExport
	PhaseFinal
)

const (
	// PhaseBefore and PhaseAfter are whence modifiers. They occupy bits
	// above the basic-phase range (low 24 bits) and below the terminal
	// markers.
	PhaseBefore Phase = 1 << 24
	PhaseAfter  Phase = 1 << 25

	// PhaseFinished and PhaseFailed are terminal markers returned by
	// Pipeline.CurrentPhase. They are never set on an attached stage.
	PhaseFinished Phase = 1 << 30
	PhaseFailed   Phase = 1 << 31
)

// basicPhaseMask covers every basic-phase bit.
const basicPhaseMask Phase = PhasePrepare | PhaseDownloads | PhaseDependencies |
	PhaseAutogen | PhaseConfigure | PhaseBuild | PhaseInstall | PhaseExport | PhaseFinal

// whenceMask covers the BEFORE/AFTER modifier bits.
const whenceMask Phase = PhaseBefore | PhaseAfter

var phaseNames = map[Phase]string{
	PhasePrepare:      "PREPARE",
	PhaseDownloads:    "DOWNLOADS",
	PhaseDependencies: "DEPENDENCIES",
	PhaseAutogen:      "AUTOGEN",
	PhaseConfigure:    "CONFIGURE",
	PhaseBuild:        "BUILD",
	PhaseInstall:      "INSTALL",
	PhaseExport:       "EXPORT",
	PhaseFinal:        "FINAL",
	PhaseFinished:     "FINISHED",
	PhaseFailed:       "FAILED",
	PhaseNone:         "NONE",
}

// String renders a basic or terminal phase for logging. Combined values
// (e.g. a basic phase OR'd with a whence bit) render as a hex fallback.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(0x%x)", uint32(p))
}

// basic returns the basic-phase bits of p, discarding whence and terminal bits.
func (p Phase) basic() Phase {
	return p & basicPhaseMask
}

// whence returns the whence bits of p (PhaseBefore, PhaseAfter, or 0).
func (p Phase) whence() Phase {
	return p & whenceMask
}

// isSingleBasic reports whether p contains exactly one basic-phase bit.
func (p Phase) isSingleBasic() bool {
	b := p.basic()
	return b != 0 && b&(b-1) == 0
}

// validAttachPhase reports whether p is legal to pass to Pipeline.Attach:
// exactly one basic bit, at most one whence bit, and no terminal bits.
func validAttachPhase(p Phase) bool {
	if !p.isSingleBasic() {
		return false
	}
	if p&^(basicPhaseMask|whenceMask) != 0 {
		return false
	}
	w := p.whence()
	return w == 0 || w == PhaseBefore || w == PhaseAfter
}

// validRequestPhase reports whether p is legal to pass to RequestPhase: a
// single basic bit and nothing else.
func validRequestPhase(p Phase) bool {
	return p.isSingleBasic() && p&^basicPhaseMask == 0
}

// ParsePhase resolves a basic phase by its name, case-insensitively (e.g.
// "build" or "BUILD" both yield PhaseBuild). It is meant for CLI and
// configuration-file phase arguments; it never returns a phase with a
// whence or terminal bit set.
func ParsePhase(name string) (Phase, error) {
	for phase, label := range phaseNames {
		if phase.isSingleBasic() && strings.EqualFold(label, name) {
			return phase, nil
		}
	}
	return PhaseNone, fmt.Errorf("unknown phase %q", name)
}

// whenceRank orders BEFORE < unmodified < AFTER for the entry comparator.
func whenceRank(p Phase) int {
	switch p.whence() {
	case PhaseBefore:
		return 0
	case PhaseAfter:
		return 2
	default:
		return 1
	}
}

// downwardClosedMask returns P | (P-1), i.e. every basic-phase bit at or
// below P. It relies on basic phases being distinct powers of two.
func downwardClosedMask(p Phase) Phase {
	return p | (p - 1)
}

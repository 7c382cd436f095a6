package pipeline

// EntryID identifies an attached PipelineEntry. Zero is reserved for
// "invalid" and is returned by Attach when attachment is rejected.
type EntryID uint32

// PipelineEntry owns a Stage together with the phase/priority it was
// attached under. Exclusive ownership of the stage lives in the entry:
// a stage is referenced by exactly one entry for as long as it is
// attached.
type PipelineEntry struct {
	ID       EntryID
	Phase    Phase
	Priority int32
	Stage    Stage

	// seq records insertion order, used as the final tiebreaker so that
	// entries with equal (phase, whence, priority) execute in the order
	// they were attached.
	seq uint64
}

// less implements the ordering comparator: basic phase, then whence
// (BEFORE < unmodified < AFTER), then priority, then insertion order.
func (e *PipelineEntry) less(o *PipelineEntry) bool {
	if e.Phase.basic() != o.Phase.basic() {
		return e.Phase.basic() < o.Phase.basic()
	}
	if wr, owr := whenceRank(e.Phase), whenceRank(o.Phase); wr != owr {
		return wr < owr
	}
	if e.Priority != o.Priority {
		return e.Priority < o.Priority
	}
	return e.seq < o.seq
}

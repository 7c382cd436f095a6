package pipeline

import "sync"

// Stream identifies which standard stream a log line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LogObserver receives every line logged by any stage attached to the
// BuildLog that installed it. Implementations must not block for long:
// Log fans out synchronously, in registration order, and one call
// completes before the next is observed.
type LogObserver func(stream Stream, line string)

// BuildLog is a fan-out sink for line-tagged log records. Producers
// (stages, subprocess readers) push lines; observers (the zerolog sink,
// the websocket status server, test harnesses) subscribe to all of them.
//
// A BuildLog is safe for concurrent use: multiple stage log readers may
// call Log at the same time, and fan-out is serialized so that no two
// Log calls interleave from an observer's point of view.
type BuildLog struct {
	mu        sync.Mutex
	observers []LogObserver
}

// NewBuildLog returns an empty BuildLog.
func NewBuildLog() *BuildLog {
	return &BuildLog{}
}

// Subscribe registers an observer. Observers are invoked in registration
// order on every subsequent Log call.
func (b *BuildLog) Subscribe(observer LogObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, observer)
}

// Log fans text out to every subscribed observer, tagged with stream.
func (b *BuildLog) Log(stream Stream, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, observer := range b.observers {
		observer(stream, line)
	}
}

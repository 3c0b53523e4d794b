package events

import (
	"fmt"
	"sync"
	"time"
)

type Event interface {
	event()
}

// Sink receives events from a worker in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCleaningMetadata
	PhaseWiping
	PhasePaused
	PhaseCancelling
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCleaningMetadata:
		return "cleaning-metadata"
	case PhaseWiping:
		return "wiping"
	case PhasePaused:
		return "paused"
	case PhaseCancelling:
		return "cancelling"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

type Progress struct {
	Phase        Phase
	Fraction     float64
	Rate         float64
	RateUnit     string
	ETA          time.Duration
	BytesWritten uint64
	FilesWritten uint64
}

func (Progress) event() {}

type SpaceUpdate struct {
	MountPoint string
	FreeBytes  uint64
}

func (SpaceUpdate) event() {}

type ScanStatus struct {
	MountPoint string
	Message    string
}

func (ScanStatus) event() {}

type PhaseChange struct {
	Phase Phase
}

func (PhaseChange) event() {}

// PassComplete closes one free-space pass; auto-restart emits one per pass.
type PassComplete struct {
	Pass         int
	Method       string
	BytesWritten uint64
	FilesWritten uint64
	Duration     time.Duration
}

func (PassComplete) event() {}

type MetadataCleanFailure struct {
	MountPoint string
	Reason     string
}

func (MetadataCleanFailure) event() {}

type Completion struct {
	Success   bool
	Cancelled bool
	Reason    string
}

func (Completion) event() {}

// Recorder is a Sink that keeps every event, for tests and reports.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

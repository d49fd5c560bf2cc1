package cycle

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/buckleypaul/cellcycle/internal/sample"
)

// Phase is a state of the run state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseConfiguring
	PhaseRunning
	PhaseDraining
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseConfiguring:
		return "configuring"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// EventKind distinguishes phase changes from ticks.
type EventKind int

const (
	EventPhase EventKind = iota
	EventTick
)

// Event is delivered to a Notifier as the run progresses.
type Event struct {
	RunID   uuid.UUID
	Kind    EventKind
	Phase   Phase
	Tick    int
	Elapsed time.Duration
	// Paused is set on ticks skipped by the pause switch.
	Paused bool
	// Err is the tick error, if any.
	Err error
	// Snapshot is the collector state after a tick.
	Snapshot []sample.ChannelSnapshot
	// Verdict is set on the PhaseDone event.
	Verdict Verdict
}

// Notifier receives run events synchronously on the run goroutine. It must
// not block for long.
type Notifier func(Event)

// PauseSwitch puts a running loop to sleep: ticks still advance but take
// no measurements. The zero value is not paused.
type PauseSwitch struct {
	paused atomic.Bool
}

// Set pauses or resumes.
func (p *PauseSwitch) Set(paused bool) { p.paused.Store(paused) }

// Toggle flips the switch and returns the new state.
func (p *PauseSwitch) Toggle() bool {
	for {
		old := p.paused.Load()
		if p.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Paused reports the current state. A nil switch is never paused.
func (p *PauseSwitch) Paused() bool {
	return p != nil && p.paused.Load()
}

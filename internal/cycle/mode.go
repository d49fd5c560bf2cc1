package cycle

import (
	"fmt"
	"time"
)

// DefaultTickInterval is the sleep between time-bounded ticks.
const DefaultTickInterval = time.Second

// Bound selects how a run decides it is finished.
type Bound int

const (
	// ByTime ticks while elapsed time is below Mode.Duration.
	ByTime Bound = iota
	// ByCount ticks Mode.Samples times, Mode.Interval apart.
	ByCount
)

// Mode is the termination mode of a run. A zero Duration or Samples means
// the run continues until its context is cancelled.
type Mode struct {
	Bound    Bound
	Duration time.Duration
	Samples  int
	Interval time.Duration
}

// TimeBounded returns a mode that ticks until d has elapsed.
func TimeBounded(d time.Duration) Mode {
	return Mode{Bound: ByTime, Duration: d}
}

// CountBounded returns a mode that takes n samples, interval apart.
func CountBounded(n int, interval time.Duration) Mode {
	return Mode{Bound: ByCount, Samples: n, Interval: interval}
}

// Unbounded reports whether only cancellation ends the run.
func (m Mode) Unbounded() bool {
	if m.Bound == ByCount {
		return m.Samples <= 0
	}
	return m.Duration <= 0
}

func (m Mode) String() string {
	switch {
	case m.Bound == ByCount && m.Unbounded():
		return fmt.Sprintf("count(unbounded, every %s)", m.Interval)
	case m.Bound == ByCount:
		return fmt.Sprintf("count(%d, every %s)", m.Samples, m.Interval)
	case m.Unbounded():
		return "time(unbounded)"
	default:
		return fmt.Sprintf("time(%s)", m.Duration)
	}
}

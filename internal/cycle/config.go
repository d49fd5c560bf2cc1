package cycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/buckleypaul/cellcycle/internal/sample"
)

// Kind names what a run does. It selects the measurement query family and
// labels history records.
type Kind string

const (
	Charge  Kind = "charge"
	Measure Kind = "measure"
	Clear   Kind = "clear"
	Reset   Kind = "reset"
)

// SetupPolicy decides what a failed setup command does to the run.
type SetupPolicy int

const (
	// Proceed logs setup failures and carries on.
	Proceed SetupPolicy = iota
	// FailFast ends the run with Error on the first setup failure.
	FailFast
)

// ParseSetupPolicy accepts "proceed" or "fail-fast".
func ParseSetupPolicy(s string) (SetupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "proceed":
		return Proceed, nil
	case "fail-fast", "failfast":
		return FailFast, nil
	}
	return Proceed, fmt.Errorf("unknown setup policy %q", s)
}

func (p SetupPolicy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "proceed"
}

// ChargeProfile defines the charge step programmed before output is enabled.
type ChargeProfile struct {
	Sequence int
	Step     int
	Voltage  float64
	Current  float64
	Duration time.Duration
}

func (c ChargeProfile) sequence() int {
	if c.Sequence <= 0 {
		return 1
	}
	return c.Sequence
}

func (c ChargeProfile) command() string {
	step := c.Step
	if step <= 0 {
		step = 1
	}
	return fmt.Sprintf("SEQ:STEP:DEF %d,%d, CHARGE, %d, %g, %g",
		c.sequence(), step, int(c.Duration.Seconds()), c.Current, c.Voltage)
}

// Config describes one charge or measure run.
type Config struct {
	Kind Kind
	// Cells is the channel-group expression, e.g. "1001,1002" or "1:4".
	Cells string
	// Channels is sent with CELL:DEF:QUICk. Zero means the group size.
	Channels int
	Mode     Mode
	Measure  sample.Measurement

	// Setup sends *IDN?, the error-limit and channel-definition commands.
	Setup        bool
	SetupPolicy  SetupPolicy
	ResetOnSetup bool

	// Charge, when set, is programmed with SEQ:STEP:DEF.
	Charge *ChargeProfile
	// InitCells enables and initializes the group after the child actions.
	InitCells bool
	// ResetAfter sends a best-effort *RST when the run ends.
	ResetAfter bool

	// VoltageQuery and CurrentQuery override the query family; the group
	// address is appended.
	VoltageQuery string
	CurrentQuery string

	// TickInterval is the sleep between time-bounded ticks.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = Measure
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.VoltageQuery == "" {
		c.VoltageQuery = "MEAS:CELL:VOLT?"
		if c.Kind == Charge {
			c.VoltageQuery = "MEAS:VOLT?"
		}
	}
	if c.CurrentQuery == "" {
		c.CurrentQuery = "MEAS:CELL:CURR?"
		if c.Kind == Charge {
			c.CurrentQuery = "MEAS:CURR?"
		}
	}
	return c
}

// ChargeConfig returns the usual charge run: full setup, a charge step of
// the given length, group initialization, 1 s ticks and both measurements.
func ChargeConfig(cells string, voltage, current float64, d time.Duration) Config {
	return Config{
		Kind:         Charge,
		Cells:        cells,
		Mode:         TimeBounded(d),
		Measure:      sample.MeasureBoth,
		Setup:        true,
		ResetOnSetup: true,
		Charge:       &ChargeProfile{Sequence: 1, Step: 1, Voltage: voltage, Current: current, Duration: d},
		InitCells:    true,
		ResetAfter:   true,
	}
}

// MeasureConfig returns a measurement sweep of n samples, interval apart.
func MeasureConfig(cells string, n int, interval time.Duration, m sample.Measurement) Config {
	return Config{
		Kind:    Measure,
		Cells:   cells,
		Mode:    CountBounded(n, interval),
		Measure: m,
	}
}

package instrument

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimulatorIdentity is the *IDN? response of a Simulator.
const SimulatorIdentity = "Keysight Technologies,BT2202A,SIM00001,0.1.0"

// Simulator is an in-memory battery cycler. It answers the subset of the
// command set the control loop uses, records everything it is sent and can
// be scripted to fail. It is safe for concurrent use.
type Simulator struct {
	// Respond, when set, is consulted before the built-in responses. It
	// returns handled=false to fall through.
	Respond func(query string) (response string, handled bool, err error)

	mu       sync.Mutex
	timeout  time.Duration
	timeouts []time.Duration
	sent     []string
	failures []failure
	output   bool
	group    string
	reads    int
}

type failure struct {
	prefix    string
	remaining int
	err       error
}

// NewSimulator returns a simulator with the default timeout.
func NewSimulator() *Simulator {
	return &Simulator{timeout: DefaultTimeout}
}

// FailNext makes the next n commands or queries starting with prefix fail
// with ErrTimeout.
func (s *Simulator) FailNext(prefix string, n int) {
	s.FailNextWith(prefix, n, ErrTimeout)
}

// FailNextWith is FailNext with a custom error.
func (s *Simulator) FailNextWith(prefix string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{prefix: prefix, remaining: n, err: err})
}

// Command implements Link.
func (s *Simulator) Command(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, cmd)
	if err := s.failLocked(cmd); err != nil {
		return err
	}

	switch {
	case cmd == "OUTP ON":
		s.output = true
	case cmd == "OUTP OFF", cmd == "*RST":
		s.output = false
	case strings.HasPrefix(cmd, "CELL:ENABLE "), strings.HasPrefix(cmd, "CELL:INIT "):
		s.group = groupOf(cmd)
	}
	return nil
}

// Query implements Link.
func (s *Simulator) Query(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.sent = append(s.sent, query)
	if g := groupOf(query); g != "" {
		s.group = g
	}
	if err := s.failLocked(query); err != nil {
		s.mu.Unlock()
		return "", err
	}
	respond := s.Respond
	s.mu.Unlock()

	if respond != nil {
		if resp, handled, err := respond(query); handled {
			return resp, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case query == "*IDN?":
		return SimulatorIdentity, nil
	case strings.HasPrefix(query, "MEAS:VOLT?"), strings.HasPrefix(query, "MEAS:CELL:VOLT?"):
		return s.readingsLocked(s.group, s.voltage), nil
	case strings.HasPrefix(query, "MEAS:CURR?"), strings.HasPrefix(query, "MEAS:CELL:CURR?"):
		return s.readingsLocked(s.group, s.current), nil
	case query == "READ:VOLT?":
		return s.readingsLocked(s.group, s.voltage), nil
	case query == "READ:CURR?":
		return s.readingsLocked(s.group, s.current), nil
	case query == "SYST:ERR?":
		return `+0,"No error"`, nil
	}
	return "", fmt.Errorf("simulator: unsupported query %q", query)
}

// Timeout implements Link.
func (s *Simulator) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetTimeout implements Link and records every value set.
func (s *Simulator) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	s.timeouts = append(s.timeouts, d)
}

// Sent returns every command and query received, in order.
func (s *Simulator) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Count returns how many commands or queries started with prefix.
func (s *Simulator) Count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, line := range s.sent {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// TimeoutHistory returns every timeout passed to SetTimeout.
func (s *Simulator) TimeoutHistory() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timeouts...)
}

// OutputEnabled reports whether the simulated output is on.
func (s *Simulator) OutputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *Simulator) failLocked(line string) error {
	for i := range s.failures {
		f := &s.failures[i]
		if f.remaining > 0 && strings.HasPrefix(line, f.prefix) {
			f.remaining--
			return f.err
		}
	}
	return nil
}

func (s *Simulator) readingsLocked(group string, value func(i int) float64) string {
	s.reads++
	n := 1
	if group != "" {
		n = strings.Count(group, ",") + strings.Count(group, ":") + 1
	}
	vals := make([]string, n)
	for i := range vals {
		vals[i] = fmt.Sprintf("%.4f", value(i))
	}
	return strings.Join(vals, ",")
}

func (s *Simulator) voltage(i int) float64 {
	v := 3.7 + 0.001*float64(i)
	if s.output {
		v += 0.0005 * float64(s.reads)
	}
	return v
}

func (s *Simulator) current(i int) float64 {
	if !s.output {
		return 0
	}
	return 1.0 - 0.01*float64(i)
}

// groupOf extracts "1001,1002" from "MEAS:VOLT? (@1001,1002)".
func groupOf(line string) string {
	start := strings.Index(line, "(@")
	if start < 0 {
		return ""
	}
	end := strings.Index(line[start:], ")")
	if end < 0 {
		return ""
	}
	return line[start+2 : start+end]
}

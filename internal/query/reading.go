package query

import "errors"

// ErrNoReading marks a measurement for which neither the query nor its
// alternate produced a response.
var ErrNoReading = errors.New("no reading")

// Reading is the outcome of one logical query. The zero value is NoReading,
// which is distinct from a real "0" response.
type Reading struct {
	raw      string
	valid    bool
	fallback bool
}

// NoReading is returned when every attempt, including the alternate
// command, failed.
var NoReading = Reading{}

// Value wraps a response received from the instrument.
func Value(raw string) Reading {
	return Reading{raw: raw, valid: true}
}

// Valid reports whether the instrument answered.
func (r Reading) Valid() bool { return r.valid }

// Raw returns the response payload; empty for NoReading.
func (r Reading) Raw() string { return r.raw }

// FromFallback reports whether the response came from the alternate command.
func (r Reading) FromFallback() bool { return r.fallback }

func (r Reading) String() string {
	if !r.valid {
		return "<no reading>"
	}
	return r.raw
}

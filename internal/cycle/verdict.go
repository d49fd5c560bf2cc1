package cycle

import "strings"

// Verdict is the externally visible outcome of a run.
type Verdict int

const (
	// NotSet is the zero value; a finished run never reports it.
	NotSet Verdict = iota
	Pass
	Fail
	Error
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Error:
		return "error"
	default:
		return "not-set"
	}
}

// ParseVerdict is the inverse of String.
func ParseVerdict(s string) Verdict {
	switch strings.ToLower(s) {
	case "pass":
		return Pass
	case "fail":
		return Fail
	case "error":
		return Error
	}
	return NotSet
}

// Worst returns the more severe of two verdicts. Error outranks Fail,
// which outranks Pass.
func Worst(a, b Verdict) Verdict {
	if b > a {
		return b
	}
	return a
}

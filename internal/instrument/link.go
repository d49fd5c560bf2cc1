// Package instrument provides the command/response links used to talk to a
// SCPI battery cycler, plus a simulator for tests and dry runs.
package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is the I/O timeout a freshly opened link starts with.
const DefaultTimeout = 2 * time.Second

var (
	// ErrTimeout is returned when the instrument does not answer in time.
	ErrTimeout = errors.New("instrument: i/o timeout")
	// ErrClosed is returned by operations on a closed link.
	ErrClosed = errors.New("instrument: link closed")
	// ErrBusy is returned by Claim when another run already owns the link.
	ErrBusy = errors.New("instrument: link in use by another run")
)

// Link is a session-oriented command/response connection to one instrument.
// Commands are stateful on the instrument side, so a Link must not be
// driven by two runs at once; see Claim.
type Link interface {
	// Command sends a command that produces no response.
	Command(ctx context.Context, cmd string) error
	// Query sends a query and returns the response line without its terminator.
	Query(ctx context.Context, query string) (string, error)
	// Timeout returns the current per-operation I/O timeout.
	Timeout() time.Duration
	// SetTimeout replaces the per-operation I/O timeout.
	SetTimeout(d time.Duration)
}

// OverrideTimeout sets l's timeout to d and returns a function that restores
// the previous value. Callers defer the restore so the override never
// outlives the operation it was taken for:
//
//	restore := instrument.OverrideTimeout(link, 5*time.Second)
//	defer restore()
func OverrideTimeout(l Link, d time.Duration) (restore func()) {
	prev := l.Timeout()
	l.SetTimeout(d)
	var once sync.Once
	return func() {
		once.Do(func() { l.SetTimeout(prev) })
	}
}

var claims sync.Map

// Claim marks l as owned by the caller until release is called. A second
// Claim on the same link before release fails with ErrBusy.
func Claim(l Link) (release func(), err error) {
	if _, loaded := claims.LoadOrStore(l, struct{}{}); loaded {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { claims.Delete(l) })
	}, nil
}

// deadline returns the earlier of now+timeout and the context deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

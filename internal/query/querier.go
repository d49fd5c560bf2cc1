// Package query issues instrument queries that survive a flaky link: each
// attempt runs under a scoped timeout after a buffer clear, failures back off
// linearly, and measurement queries fall back to an alternate command once
// retries are spent.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/instrument"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxRetries   = 3
	DefaultBackoffBase  = 100 * time.Millisecond
	DefaultSettleDelay  = 50 * time.Millisecond
	DefaultClearCommand = "*CLS"
)

// Fallback maps a measurement query prefix to the alternate command tried
// once retries are exhausted.
type Fallback struct {
	Prefix    string
	Alternate string
}

// DefaultFallbacks covers both the per-cell and the plain measurement
// query families.
var DefaultFallbacks = []Fallback{
	{Prefix: "MEAS:CELL:VOLT?", Alternate: "READ:VOLT?"},
	{Prefix: "MEAS:CELL:CURR?", Alternate: "READ:CURR?"},
	{Prefix: "MEAS:VOLT?", Alternate: "READ:VOLT?"},
	{Prefix: "MEAS:CURR?", Alternate: "READ:CURR?"},
}

// Options tunes a Querier.
type Options struct {
	// Timeout overrides the link timeout for the duration of each attempt.
	Timeout time.Duration
	// MaxRetries is the number of primary attempts made before the alternate
	// query. Zero still sends the primary query once.
	MaxRetries int
	// BackoffBase is multiplied by the attempt number after each failure.
	BackoffBase time.Duration
	// SettleDelay separates the buffer clear from the query.
	SettleDelay  time.Duration
	ClearCommand string
	Fallbacks    []Fallback
}

// DefaultOptions returns the options used by the cycler commands.
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		MaxRetries:   DefaultMaxRetries,
		BackoffBase:  DefaultBackoffBase,
		SettleDelay:  DefaultSettleDelay,
		ClearCommand: DefaultClearCommand,
		Fallbacks:    DefaultFallbacks,
	}
}

// Observer is told about retries and fallbacks, e.g. to export metrics.
type Observer interface {
	Attempted(cmd string)
	Retried(cmd string)
	FellBack(cmd string, ok bool)
	Exhausted(cmd string)
}

type nopObserver struct{}

func (nopObserver) Attempted(string)      {}
func (nopObserver) Retried(string)        {}
func (nopObserver) FellBack(string, bool) {}
func (nopObserver) Exhausted(string)      {}

// Querier wraps a link with retry, backoff and fallback. It is not safe
// for concurrent use; one run owns one Querier.
type Querier struct {
	link     instrument.Link
	opts     Options
	clock    clock.Clock
	logger   *zap.Logger
	observer Observer
}

// Option configures a Querier.
type Option func(*Querier)

// WithClock replaces the wall clock used for settle and backoff delays.
func WithClock(c clock.Clock) Option {
	return func(q *Querier) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Querier) { q.logger = l }
}

// WithObserver registers an observer for retry events.
func WithObserver(o Observer) Option {
	return func(q *Querier) { q.observer = o }
}

// New returns a Querier over link.
func New(link instrument.Link, opts Options, options ...Option) *Querier {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	q := &Querier{
		link:     link,
		opts:     opts,
		clock:    clock.New(),
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, o := range options {
		o(q)
	}
	return q
}

// Options returns the effective options.
func (q *Querier) Options() Options { return q.opts }

// Query sends cmd, making up to MaxRetries attempts. When the attempts are
// spent a measurement query is replaced by its alternate; if that
// fails too, or cmd has no alternate, the result is NoReading. The returned
// error is non-nil only when ctx ends.
func (q *Querier) Query(ctx context.Context, cmd string) (Reading, error) {
	total := max(q.opts.MaxRetries, 1)
	for attempt := 0; attempt < total; attempt++ {
		if attempt > 0 {
			q.observer.Retried(cmd)
			q.logger.Debug("retrying query",
				zap.String("query", cmd),
				zap.Int("attempt", attempt+1),
				zap.Int("of", total))
		}

		q.observer.Attempted(cmd)
		resp, err := q.attempt(ctx, cmd)
		if err == nil {
			return Value(resp), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NoReading, ctxErr
		}
		q.logger.Debug("query attempt failed",
			zap.String("query", cmd),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if err := sleep(ctx, q.clock, q.opts.BackoffBase*time.Duration(attempt+1)); err != nil {
			return NoReading, err
		}
	}
	return q.fallback(ctx, cmd)
}

// attempt runs one clear-settle-query cycle with the timeout override held
// for its whole duration.
func (q *Querier) attempt(ctx context.Context, cmd string) (string, error) {
	restore := instrument.OverrideTimeout(q.link, q.opts.Timeout)
	defer restore()

	if q.opts.ClearCommand != "" {
		if err := q.link.Command(ctx, q.opts.ClearCommand); err != nil {
			return "", err
		}
		if err := sleep(ctx, q.clock, q.opts.SettleDelay); err != nil {
			return "", err
		}
	}
	return q.link.Query(ctx, cmd)
}

func (q *Querier) fallback(ctx context.Context, cmd string) (Reading, error) {
	alt, ok := q.alternateFor(cmd)
	if !ok {
		q.observer.Exhausted(cmd)
		q.logger.Warn("query failed after retries",
			zap.String("query", cmd),
			zap.Int("attempts", max(q.opts.MaxRetries, 1)))
		return NoReading, nil
	}

	q.logger.Info("trying alternate measurement command",
		zap.String("query", cmd),
		zap.String("alternate", alt))

	restore := instrument.OverrideTimeout(q.link, q.opts.Timeout)
	resp, err := q.link.Query(ctx, alt)
	restore()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NoReading, ctxErr
		}
		q.observer.FellBack(cmd, false)
		q.observer.Exhausted(cmd)
		q.logger.Warn("alternate measurement also failed",
			zap.String("alternate", alt),
			zap.Error(err))
		return NoReading, nil
	}

	q.observer.FellBack(cmd, true)
	r := Value(resp)
	r.fallback = true
	return r, nil
}

func (q *Querier) alternateFor(cmd string) (string, bool) {
	for _, f := range q.opts.Fallbacks {
		if strings.HasPrefix(cmd, f.Prefix) {
			return f.Alternate, true
		}
	}
	return "", false
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}

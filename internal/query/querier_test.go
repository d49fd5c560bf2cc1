package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/buckleypaul/cellcycle/internal/instrument"
	"github.com/buckleypaul/cellcycle/internal/testutil"
)

type countingObserver struct {
	attempts, retries, fallbacksOK, fallbacksFailed, exhausted int
}

func (o *countingObserver) Attempted(string) { o.attempts++ }
func (o *countingObserver) Retried(string)   { o.retries++ }
func (o *countingObserver) FellBack(_ string, ok bool) {
	if ok {
		o.fallbacksOK++
	} else {
		o.fallbacksFailed++
	}
}
func (o *countingObserver) Exhausted(string) { o.exhausted++ }

func newTestQuerier(t *testing.T, link instrument.Link, opts Options) (*Querier, testutil.StepClock, *countingObserver) {
	t.Helper()
	clk := testutil.NewStepClock()
	obs := &countingObserver{}
	q := New(link, opts, WithClock(clk), WithLogger(zaptest.NewLogger(t)), WithObserver(obs))
	return q, clk, obs
}

func TestQuerySucceedsFirstAttempt(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.SetTimeout(time.Second)
	q, _, obs := newTestQuerier(t, sim, DefaultOptions())

	r, err := q.Query(context.Background(), "MEAS:VOLT? (@1,2)")
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.False(t, r.FromFallback())
	assert.Equal(t, "3.7000,3.7010", r.Raw())

	assert.Equal(t, []string{"*CLS", "MEAS:VOLT? (@1,2)"}, sim.Sent())
	assert.Equal(t, time.Second, sim.Timeout(), "timeout restored")
	assert.Equal(t, []time.Duration{time.Second, DefaultTimeout, time.Second}, sim.TimeoutHistory())
	assert.Equal(t, 1, obs.attempts)
	assert.Zero(t, obs.retries)
}

func TestQueryRetriesWithLinearBackoff(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.FailNext("MEAS:VOLT?", 2)
	q, clk, obs := newTestQuerier(t, sim, DefaultOptions())
	start := clk.Now()

	r, err := q.Query(context.Background(), "MEAS:VOLT? (@1)")
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.Equal(t, 3, sim.Count("MEAS:VOLT?"))
	assert.Equal(t, 3, sim.Count("*CLS"))
	assert.Equal(t, 2, obs.retries)
	assert.Zero(t, sim.Count("READ:VOLT?"), "third attempt is the last primary one")

	// Three settle delays plus backoffs of 1x and 2x the base.
	want := 3*DefaultSettleDelay + DefaultBackoffBase + 2*DefaultBackoffBase
	assert.Equal(t, want, clk.Elapsed(start))
}

func TestQueryFallsBackAfterRetriesExhausted(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.FailNext("MEAS:CELL:VOLT?", 100)
	q, _, obs := newTestQuerier(t, sim, DefaultOptions())

	r, err := q.Query(context.Background(), "MEAS:CELL:VOLT? (@1001,1002)")
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.True(t, r.FromFallback())
	assert.Equal(t, "3.7000,3.7010", r.Raw())

	assert.Equal(t, DefaultMaxRetries, sim.Count("MEAS:CELL:VOLT?"))
	assert.Equal(t, 1, sim.Count("READ:VOLT?"))
	assert.Equal(t, 1, obs.fallbacksOK)
	assert.Zero(t, obs.exhausted)
}

func TestQueryCurrentFallback(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.FailNext("MEAS:CURR?", 100)
	q, _, _ := newTestQuerier(t, sim, DefaultOptions())

	r, err := q.Query(context.Background(), "MEAS:CURR? (@1)")
	require.NoError(t, err)
	assert.True(t, r.FromFallback())
	assert.Equal(t, 1, sim.Count("READ:CURR?"))
	assert.Zero(t, sim.Count("READ:VOLT?"))
}

func TestQueryReturnsNoReadingWhenFallbackFails(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.FailNext("MEAS:VOLT?", 100)
	sim.FailNext("READ:VOLT?", 1)
	q, _, obs := newTestQuerier(t, sim, DefaultOptions())

	r, err := q.Query(context.Background(), "MEAS:VOLT? (@1)")
	require.NoError(t, err)
	assert.False(t, r.Valid())
	assert.Equal(t, NoReading, r)
	assert.Equal(t, 1, obs.fallbacksFailed)
	assert.Equal(t, 1, obs.exhausted)
}

func TestQueryWithoutAlternateReturnsNoReading(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.FailNext("SYST:ERR?", 100)
	q, _, obs := newTestQuerier(t, sim, DefaultOptions())

	r, err := q.Query(context.Background(), "SYST:ERR?")
	require.NoError(t, err)
	assert.False(t, r.Valid())
	assert.Zero(t, sim.Count("READ:"))
	assert.Equal(t, 1, obs.exhausted)
}

func TestQueryAttemptBound(t *testing.T) {
	for maxRetries := 0; maxRetries <= 5; maxRetries++ {
		t.Run(fmt.Sprintf("retries=%d", maxRetries), func(t *testing.T) {
			sim := instrument.NewSimulator()
			sim.FailNext("MEAS:VOLT?", 100)
			sim.FailNext("READ:VOLT?", 100)
			opts := DefaultOptions()
			opts.MaxRetries = maxRetries
			q, _, obs := newTestQuerier(t, sim, opts)

			attempts := max(maxRetries, 1)
			r, err := q.Query(context.Background(), "MEAS:VOLT? (@1)")
			require.NoError(t, err)
			assert.False(t, r.Valid())
			assert.Equal(t, attempts, sim.Count("MEAS:VOLT?"))
			assert.Equal(t, attempts-1, obs.retries)
			assert.Equal(t, 1, sim.Count("READ:VOLT?"))
		})
	}
}

func TestQueryNegativeRetriesTreatedAsZero(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.FailNext("MEAS:VOLT?", 100)
	opts := DefaultOptions()
	opts.MaxRetries = -2
	q, _, _ := newTestQuerier(t, sim, opts)

	_, err := q.Query(context.Background(), "MEAS:VOLT? (@1)")
	require.NoError(t, err)
	assert.Equal(t, 1, sim.Count("MEAS:VOLT?"))
}

func TestQueryRestoresTimeoutWhenClearFails(t *testing.T) {
	sim := instrument.NewSimulator()
	sim.SetTimeout(750 * time.Millisecond)
	sim.FailNext("*CLS", 1)
	q, _, _ := newTestQuerier(t, sim, DefaultOptions())

	r, err := q.Query(context.Background(), "MEAS:VOLT? (@1)")
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.Equal(t, 750*time.Millisecond, sim.Timeout())
	assert.Equal(t, 1, sim.Count("MEAS:VOLT?"), "failed clear skips the query")
}

func TestQueryStopsOnCancelledContext(t *testing.T) {
	sim := instrument.NewSimulator()
	q, _, _ := newTestQuerier(t, sim, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := q.Query(ctx, "MEAS:VOLT? (@1)")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.Valid())
	assert.Zero(t, sim.Count("READ:"))
}

func TestReadingString(t *testing.T) {
	assert.Equal(t, "<no reading>", NoReading.String())
	assert.Equal(t, "0", Value("0").String())
	assert.True(t, Value("0").Valid(), "a real zero is a reading")
}

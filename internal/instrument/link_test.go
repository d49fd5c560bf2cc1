package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideTimeoutRestoresPrevious(t *testing.T) {
	sim := NewSimulator()
	sim.SetTimeout(time.Second)

	restore := OverrideTimeout(sim, 5*time.Second)
	assert.Equal(t, 5*time.Second, sim.Timeout())

	restore()
	assert.Equal(t, time.Second, sim.Timeout())

	// A second restore must not clobber a later change.
	sim.SetTimeout(3 * time.Second)
	restore()
	assert.Equal(t, 3*time.Second, sim.Timeout())
}

func TestOverrideTimeoutRestoresOnPanic(t *testing.T) {
	sim := NewSimulator()
	sim.SetTimeout(time.Second)

	func() {
		defer func() { recover() }()
		restore := OverrideTimeout(sim, 9*time.Second)
		defer restore()
		panic("boom")
	}()

	assert.Equal(t, time.Second, sim.Timeout())
}

func TestClaimIsExclusivePerLink(t *testing.T) {
	a := NewSimulator()
	b := NewSimulator()

	release, err := Claim(a)
	require.NoError(t, err)

	_, err = Claim(a)
	assert.ErrorIs(t, err, ErrBusy)

	releaseB, err := Claim(b)
	require.NoError(t, err, "other links are independent")
	releaseB()

	release()
	release()

	again, err := Claim(a)
	require.NoError(t, err)
	again()
}

func TestSimulatorScriptedFailures(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	sim.FailNext("MEAS:VOLT?", 2)

	_, err := sim.Query(ctx, "MEAS:VOLT? (@1,2)")
	assert.ErrorIs(t, err, ErrTimeout)
	_, err = sim.Query(ctx, "MEAS:VOLT? (@1,2)")
	assert.ErrorIs(t, err, ErrTimeout)

	resp, err := sim.Query(ctx, "MEAS:VOLT? (@1,2)")
	require.NoError(t, err)
	assert.Equal(t, "3.7000,3.7010", resp)
	assert.Equal(t, 3, sim.Count("MEAS:VOLT?"))
}

func TestSimulatorOutputState(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()

	require.NoError(t, sim.Command(ctx, "OUTP ON"))
	assert.True(t, sim.OutputEnabled())

	require.NoError(t, sim.Command(ctx, "CELL:ENABLE (@1001,1002),1"))
	cur, err := sim.Query(ctx, "READ:CURR?")
	require.NoError(t, err)
	assert.Equal(t, "1.0000,0.9900", cur)

	require.NoError(t, sim.Command(ctx, "OUTP OFF"))
	assert.False(t, sim.OutputEnabled())

	idn, err := sim.Query(ctx, "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, SimulatorIdentity, idn)

	assert.Equal(t, []string{"OUTP ON", "CELL:ENABLE (@1001,1002),1", "READ:CURR?", "OUTP OFF", "*IDN?"}, sim.Sent())
}

func TestSimulatorRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := NewSimulator()
	assert.ErrorIs(t, sim.Command(ctx, "OUTP ON"), context.Canceled)
	_, err := sim.Query(ctx, "*IDN?")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sim.Sent())
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/buckleypaul/cellcycle/internal/config"
	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/instrument"
	"github.com/buckleypaul/cellcycle/internal/store"
	"github.com/buckleypaul/cellcycle/internal/testutil"
)

type harness struct {
	app *App
	sim *instrument.Simulator
	out *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	sim := instrument.NewSimulator()
	out := &bytes.Buffer{}
	app := &App{
		Out:    out,
		Err:    out,
		Root:   t.TempDir(),
		Clock:  testutil.NewStepClock(),
		Logger: zaptest.NewLogger(t),
		Dial: func(context.Context, config.Config) (instrument.Link, func() error, error) {
			return sim, noClose, nil
		},
	}
	return &harness{app: app, sim: sim, out: out}
}

func (h *harness) exec(args ...string) error {
	cmd := NewCommand(h.app)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func (h *harness) runs(t *testing.T) []store.RunRecord {
	t.Helper()
	runs, err := store.New(filepath.Join(h.app.Root, config.DirName)).Runs()
	require.NoError(t, err)
	return runs
}

func TestMeasureRecordsAndExports(t *testing.T) {
	h := newHarness(t)

	err := h.exec("measure", "--cells", "1001,1002", "--samples", "3", "--interval", "1s", "--export")
	require.NoError(t, err)

	assert.Contains(t, h.out.String(), "PASS")
	assert.Contains(t, h.out.String(), "exported")
	// Three samples plus the final reading.
	assert.Equal(t, 4, h.sim.Count("MEAS:CELL:VOLT?"))

	files, err := filepath.Glob(filepath.Join(h.app.Root, config.DefaultExportDir, "both_*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	runs := h.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, "measure", runs[0].Kind)
	assert.Equal(t, "pass", runs[0].Verdict)
	assert.Equal(t, "count(3, every 1s)", runs[0].Mode)
	assert.Equal(t, 3, runs[0].Ticks)
	assert.Equal(t, files[0], runs[0].Export)
}

func TestMeasureForSeconds(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.exec("measure", "--cells", "1001", "--seconds", "3", "--type", "voltage"))

	runs := h.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, "time(3s)", runs[0].Mode)
	assert.Zero(t, h.sim.Count("MEAS:CELL:CURR?"))
}

func TestMeasureRejectsNone(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.exec("measure", "--type", "none"))
	assert.Empty(t, h.sim.Sent())
}

func TestChargePrintsFinalReadings(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.exec("charge", "--cells", "1001", "--seconds", "2", "--voltage", "4.1", "--current", "0.5"))

	assert.Contains(t, h.out.String(), "Final Voltage (V): ")
	assert.Contains(t, h.out.String(), "Final Current (A): ")
	assert.Equal(t, 1, h.sim.Count("SEQ:STEP:DEF 1,1, CHARGE, 2, 0.5, 4.1"))
	assert.False(t, h.sim.OutputEnabled())
}

func TestChargeFailureExitsWithVerdict(t *testing.T) {
	h := newHarness(t)
	h.sim.FailNext("OUTP ON", 1)

	err := h.exec("charge", "--cells", "1001", "--seconds", "2")

	var verdict *VerdictError
	require.ErrorAs(t, err, &verdict)
	assert.Equal(t, cycle.Fail, verdict.Verdict)
	assert.Contains(t, h.out.String(), "FAIL")

	runs := h.runs(t)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestBadGroupIsAnError(t *testing.T) {
	h := newHarness(t)

	err := h.exec("measure", "--cells", "1001,,1002")

	var verdict *VerdictError
	require.ErrorAs(t, err, &verdict)
	assert.Equal(t, cycle.Error, verdict.Verdict)
	assert.Empty(t, h.sim.Sent())
}

func TestClearAndReset(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.exec("clear"))
	require.NoError(t, h.exec("reset"))

	assert.Equal(t, []string{"*IDN?", "CELL:ABOR 0", "CELL:CLE 0", "SEQ:CLE 0", "*RST"}, h.sim.Sent())
	runs := h.runs(t)
	require.Len(t, runs, 2)
	assert.Equal(t, "clear", runs[0].Kind)
	assert.Empty(t, runs[0].Mode)
}

const cliPlan = `
name: smoke
steps:
  - type: clear
  - type: measure
    cells: "1001:1002"
    samples: 2
    interval: 1s
  - type: reset
`

func TestRunPlan(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cliPlan), 0o644))

	require.NoError(t, h.exec("run", path))

	assert.Contains(t, h.out.String(), "plan smoke: 3 of 3 steps")
	runs := h.runs(t)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, "smoke", r.Plan)
	}

	plans, err := store.New(filepath.Join(h.app.Root, config.DirName)).Plans()
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "pass", plans[0].Verdict)
	assert.Equal(t, 3, plans[0].Steps)
}

func TestRunPlanMissingFile(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.exec("run", filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestHistory(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.exec("history"))
	assert.Contains(t, h.out.String(), "no runs recorded")

	require.NoError(t, h.exec("measure", "--cells", "1001", "--samples", "1"))
	h.out.Reset()
	require.NoError(t, h.exec("history"))
	assert.Contains(t, h.out.String(), "measure")
	assert.Contains(t, h.out.String(), "1001")
	assert.Contains(t, h.out.String(), "pass")
}

func TestFlagsOverrideConfig(t *testing.T) {
	h := newHarness(t)
	cfg := config.Defaults()
	cfg.SetupPolicy = "fail-fast"
	cfg.MeasurementTimeoutMs = 900
	require.NoError(t, config.Save(cfg, h.app.Root, false))

	require.NoError(t, h.exec("--retries", "0", "--transport", "sim", "history"))

	assert.Equal(t, "sim", h.app.cfg.Transport)
	assert.Equal(t, 0, h.app.cfg.Retries())
	assert.Equal(t, cycle.FailFast, h.app.setupPolicy())
	assert.Equal(t, int64(900), h.app.cfg.QueryOptions().Timeout.Milliseconds())
}

func TestInvalidSetupPolicy(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.exec("--setup-policy", "sometimes", "history"))
	assert.Error(t, h.exec("--retries=-1", "history"))
}

func TestDial(t *testing.T) {
	ctx := context.Background()

	link, closeLink, err := Dial(ctx, config.Config{Transport: "sim"})
	require.NoError(t, err)
	assert.IsType(t, &instrument.Simulator{}, link)
	assert.NoError(t, closeLink())

	_, _, err = Dial(ctx, config.Config{Transport: "serial"})
	assert.ErrorContains(t, err, "--port")

	_, _, err = Dial(ctx, config.Config{Transport: "tcp"})
	assert.ErrorContains(t, err, "--addr")

	_, _, err = Dial(ctx, config.Config{Transport: "gpib"})
	assert.ErrorContains(t, err, "unknown transport")
}

func TestTail(t *testing.T) {
	assert.Equal(t, []int{4, 3}, tail(5, 2))
	assert.Equal(t, []int{1, 0}, tail(2, 0))
	assert.Equal(t, []int{1, 0}, tail(2, 10))
}

func TestConfigCommand(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.exec("config", "measurement_retries", "1"))
	require.NoError(t, h.exec("config", "transport", "sim"))
	assert.Error(t, h.exec("config", "transport", "gpib"))

	saved := config.LoadFile(h.app.Root, false)
	assert.Equal(t, 1, saved.Retries())
	assert.Equal(t, "sim", saved.Transport)
	assert.Zero(t, saved.SerialBaudRate, "defaults stay out of the workspace file")

	h.out.Reset()
	require.NoError(t, h.exec("config", "measurement_retries"))
	assert.Equal(t, "1\n", h.out.String())

	h.out.Reset()
	require.NoError(t, h.exec("config"))
	assert.Contains(t, h.out.String(), "serial_baud_rate")
}

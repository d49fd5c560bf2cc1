package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/export"
	"github.com/buckleypaul/cellcycle/internal/query"
	"github.com/buckleypaul/cellcycle/internal/sample"
	"github.com/buckleypaul/cellcycle/internal/store"
	"github.com/buckleypaul/cellcycle/internal/tui"
	"github.com/buckleypaul/cellcycle/internal/ui"
)

type runFlags struct {
	cells      string
	channels   int
	voltage    float64
	current    float64
	seconds    float64
	samples    int
	interval   time.Duration
	measure    string
	noMeasure  bool
	export     bool
	exportPath string
	tui        bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.cells, "cells", "1001", "channel group, e.g. 1001,1002 or 1001:1004")
	fl.IntVar(&f.channels, "channels", 0, "channel count sent with the cell definition (0 means the group size)")
	fl.BoolVar(&f.export, "export", false, "write the collected series to a CSV file")
	fl.StringVar(&f.exportPath, "export-path", "", "CSV path (implies --export)")
	fl.BoolVar(&f.tui, "tui", false, "show the live run monitor")
}

func newChargeCommand(app *App) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "charge",
		Short: "Charge a cell group for a fixed time",
		Long: `Program a charge step, enable the output and sample voltage and current
once a second until the time is up. --seconds 0 charges until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Duration(f.seconds * float64(time.Second))
			cfg := cycle.ChargeConfig(f.cells, f.voltage, f.current, d)
			cfg.Channels = f.channels
			cfg.SetupPolicy = app.setupPolicy()
			if f.noMeasure {
				cfg.Measure = sample.MeasureNone
			}
			return app.run(cmd.Context(), cfg, f)
		},
	}
	f.register(cmd)
	cmd.Flags().Float64Var(&f.voltage, "voltage", 4.2, "charge voltage limit in volts")
	cmd.Flags().Float64Var(&f.current, "current", 1.0, "charge current in amps")
	cmd.Flags().Float64Var(&f.seconds, "seconds", 60, "charge duration in seconds")
	cmd.Flags().BoolVar(&f.noMeasure, "no-measure", false, "charge without sampling")
	return cmd
}

func newMeasureCommand(app *App) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Sample cell voltage and current",
		Long: `Take a number of samples an interval apart, or sample once a second for
--seconds. --samples 0 samples until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := sample.ParseMeasurement(f.measure)
			if err != nil {
				return err
			}
			if m == sample.MeasureNone {
				return errors.New("--type none leaves nothing to measure")
			}
			cfg := cycle.MeasureConfig(f.cells, f.samples, f.interval, m)
			if cmd.Flags().Changed("seconds") {
				cfg.Mode = cycle.TimeBounded(time.Duration(f.seconds * float64(time.Second)))
			}
			cfg.Channels = f.channels
			cfg.SetupPolicy = app.setupPolicy()
			return app.run(cmd.Context(), cfg, f)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.samples, "samples", 10, "number of samples to take")
	cmd.Flags().DurationVar(&f.interval, "interval", time.Second, "time between samples")
	cmd.Flags().Float64Var(&f.seconds, "seconds", 0, "sample for this long instead of a sample count")
	cmd.Flags().StringVar(&f.measure, "type", "both", "what to measure: voltage, current or both")
	return cmd
}

// run executes one charge or measure run, records it and prints the result.
func (a *App) run(ctx context.Context, cfg cycle.Config, f runFlags) error {
	logger, flush, err := a.newLogger(f.tui)
	if err != nil {
		return err
	}
	defer flush()

	link, closeLink, err := a.Dial(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLink(); err != nil {
			logger.Warn("closing link", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := a.runnerOptions(ctx, logger)
	if f.export || f.exportPath != "" {
		opts = append(opts, cycle.WithExporter(export.CSV{Dir: a.exportDir(), Path: f.exportPath, Clock: a.clock()}))
	}

	var res cycle.Result
	if f.tui {
		pause := &cycle.PauseSwitch{}
		info := tui.RunInfo{Kind: cfg.Kind, Cells: cfg.Cells, Mode: cfg.Mode}
		res, err = tui.Start(ctx, info, pause, func(ctx context.Context, notify cycle.Notifier) cycle.Result {
			return cycle.New(link, append(opts, cycle.WithPause(pause), cycle.WithNotifier(notify))...).Run(ctx, cfg)
		})
		if err != nil {
			logger.Error("run monitor failed", zap.Error(err))
		}
		a.printFinal("Final Voltage (V)", res.FinalVoltage)
		a.printFinal("Final Current (A)", res.FinalCurrent)
	} else {
		opts = append(opts, cycle.WithPublisher(a.printFinal))
		res = cycle.New(link, opts...).Run(ctx, cfg)
	}

	a.record(res, "", logger)
	a.printResult(res)
	return verdictErr(res.Verdict)
}

func (a *App) printFinal(label string, r query.Reading) {
	if !r.Valid() {
		return
	}
	fmt.Fprintf(a.Out, "%s: %s\n", label, r)
}

func (a *App) printResult(res cycle.Result) {
	line := fmt.Sprintf("%s %s %s: %d ticks in %s",
		ui.VerdictBadge(res.Verdict.String()), res.Kind, res.Cells, res.Ticks, res.Elapsed.Round(time.Millisecond))
	if res.Err != nil {
		line += " (" + res.Err.Error() + ")"
	}
	fmt.Fprintln(a.Out, line)
	if res.ExportPath != "" {
		fmt.Fprintf(a.Out, "exported %s\n", res.ExportPath)
	}
}

// record appends res to the run history. History is best effort.
func (a *App) record(res cycle.Result, planName string, logger *zap.Logger) {
	rec := store.RunRecord{
		ID:        res.RunID.String(),
		Kind:      string(res.Kind),
		Cells:     res.Cells,
		Verdict:   res.Verdict.String(),
		Timestamp: res.Started,
		Duration:  res.Elapsed.Round(time.Millisecond).String(),
		Ticks:     res.Ticks,
		Export:    res.ExportPath,
		Plan:      planName,
	}
	if res.Kind == cycle.Charge || res.Kind == cycle.Measure {
		rec.Mode = res.Mode.String()
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := a.store().AddRun(rec); err != nil {
		logger.Warn("recording run history", zap.Error(err))
	}
}

// Package cli is the cellcycle command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/config"
	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/instrument"
	"github.com/buckleypaul/cellcycle/internal/logging"
	"github.com/buckleypaul/cellcycle/internal/metrics"
	"github.com/buckleypaul/cellcycle/internal/store"
)

// VerdictError is returned by a command whose run did not pass.
type VerdictError struct {
	Verdict cycle.Verdict
}

func (e *VerdictError) Error() string {
	return fmt.Sprintf("run finished with verdict %s", e.Verdict)
}

func verdictErr(v cycle.Verdict) error {
	if v == cycle.Pass {
		return nil
	}
	return &VerdictError{Verdict: v}
}

// DialFunc opens the instrument link described by cfg. The returned close
// function is always safe to call.
type DialFunc func(ctx context.Context, cfg config.Config) (instrument.Link, func() error, error)

// App carries the state shared by every command.
type App struct {
	Out io.Writer
	Err io.Writer
	// Root is the workspace directory holding .cellcycle/.
	Root  string
	Clock clock.Clock
	Dial  DialFunc
	// Logger, when set, is used instead of building one from the flags.
	Logger *zap.Logger

	cfg   config.Config
	flags globalFlags
}

type globalFlags struct {
	transport   string
	port        string
	baud        int
	addr        string
	timeoutMs   int
	retries     int
	setupPolicy string
	verbose     bool
	metricsAddr string
}

// NewApp returns an App writing to the process streams, rooted at the
// working directory.
func NewApp() (*App, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &App{
		Out:   os.Stdout,
		Err:   os.Stderr,
		Root:  cwd,
		Clock: clock.New(),
		Dial:  Dial,
	}, nil
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	app, err := NewApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = NewCommand(app).ExecuteContext(ctx)
	stop()
	if err != nil {
		var verdict *VerdictError
		if !errors.As(err, &verdict) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// NewCommand builds the root command for app.
func NewCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "cellcycle",
		Short: "Battery cycler automation over SCPI",
		Long: `Drive charge and measurement runs on a multi-channel battery cycler,
sample voltage and current per channel, and report a pass/fail verdict.

Examples:
  cellcycle charge --cells 1001,1002 --voltage 4.2 --current 1 --seconds 600
  cellcycle measure --cells 1001:1004 --samples 10 --interval 1s --export
  cellcycle run formation.yaml
  cellcycle measure --transport sim --cells 1001 --tui`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig(cmd)
		},
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	f := root.PersistentFlags()
	f.StringVar(&app.flags.transport, "transport", "", "instrument transport: serial, tcp or sim")
	f.StringVar(&app.flags.port, "port", "", "serial port of the instrument")
	f.IntVar(&app.flags.baud, "baud", 0, "serial baud rate")
	f.StringVar(&app.flags.addr, "addr", "", "instrument host[:port] for the tcp transport")
	f.IntVar(&app.flags.timeoutMs, "timeout", 0, "measurement query timeout in milliseconds")
	f.IntVar(&app.flags.retries, "retries", 0, "measurement query retries (0 disables retrying)")
	f.StringVar(&app.flags.setupPolicy, "setup-policy", "", "on setup failure: proceed or fail-fast")
	f.BoolVarP(&app.flags.verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&app.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during runs")

	root.AddCommand(
		newChargeCommand(app),
		newMeasureCommand(app),
		newPlanCommand(app),
		newClearCommand(app),
		newResetCommand(app),
		newPortsCommand(app),
		newHistoryCommand(app),
		newConfigCommand(app),
	)
	return root
}

// loadConfig merges the config files and applies the flags the user set.
func (a *App) loadConfig(cmd *cobra.Command) error {
	a.cfg = config.Load(a.Root)
	flags := cmd.Flags()
	if flags.Changed("transport") {
		a.cfg.Transport = a.flags.transport
	}
	if flags.Changed("port") {
		a.cfg.SerialPort = a.flags.port
	}
	if flags.Changed("baud") {
		a.cfg.SerialBaudRate = a.flags.baud
	}
	if flags.Changed("addr") {
		a.cfg.Address = a.flags.addr
	}
	if flags.Changed("timeout") {
		a.cfg.MeasurementTimeoutMs = a.flags.timeoutMs
	}
	if flags.Changed("retries") {
		if a.flags.retries < 0 {
			return errors.New("--retries must not be negative")
		}
		retries := a.flags.retries
		a.cfg.MeasurementRetries = &retries
	}
	if flags.Changed("setup-policy") {
		a.cfg.SetupPolicy = a.flags.setupPolicy
	}
	if flags.Changed("metrics-addr") {
		a.cfg.MetricsAddr = a.flags.metricsAddr
	}
	if _, err := cycle.ParseSetupPolicy(a.cfg.SetupPolicy); err != nil {
		return err
	}
	return nil
}

func (a *App) store() *store.Store {
	return store.New(filepath.Join(a.Root, config.DirName))
}

func (a *App) clock() clock.Clock {
	if a.Clock == nil {
		return clock.New()
	}
	return a.Clock
}

// newLogger returns the logger for one command. With toFile the log goes
// under .cellcycle/logs so it does not tear the terminal UI.
func (a *App) newLogger(toFile bool) (*zap.Logger, func(), error) {
	if a.Logger != nil {
		return a.Logger, func() {}, nil
	}
	opts := logging.Options{Verbose: a.flags.verbose}
	if toFile {
		dir, err := a.store().LogsDir()
		if err != nil {
			return nil, nil, errors.Wrap(err, "create log directory")
		}
		opts.File = filepath.Join(dir, a.clock().Now().Format("20060102_150405")+".log")
	}
	return logging.New(opts)
}

// runnerOptions returns the options every run shares. When a metrics
// address is configured the registry is served until ctx is done.
func (a *App) runnerOptions(ctx context.Context, logger *zap.Logger) []cycle.Option {
	opts := []cycle.Option{
		cycle.WithClock(a.clock()),
		cycle.WithLogger(logger),
		cycle.WithQueryOptions(a.cfg.QueryOptions()),
	}
	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, cycle.WithMetrics(metrics.New(reg)))
		go func() {
			if err := metrics.Serve(ctx, a.cfg.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}
	return opts
}

func (a *App) setupPolicy() cycle.SetupPolicy {
	p, _ := cycle.ParseSetupPolicy(a.cfg.SetupPolicy)
	return p
}

func (a *App) exportDir() string {
	if filepath.IsAbs(a.cfg.ExportDir) {
		return a.cfg.ExportDir
	}
	return filepath.Join(a.Root, a.cfg.ExportDir)
}

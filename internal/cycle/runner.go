// Package cycle runs charge and measurement sequences on a battery cycler:
// it configures the instrument, ticks a sampling loop until a time or count
// bound is reached, and guarantees the output is switched off on the way
// out.
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/channel"
	"github.com/buckleypaul/cellcycle/internal/instrument"
	"github.com/buckleypaul/cellcycle/internal/query"
	"github.com/buckleypaul/cellcycle/internal/sample"
)

// Action is a side-effecting step run once after output is enabled and
// before the group is initialized. An error fails the run.
type Action struct {
	Name string
	Do   func(ctx context.Context, link instrument.Link) error
}

// Publisher receives the named final readings of a run.
type Publisher func(label string, r query.Reading)

// Exporter writes the collected series somewhere and returns where.
type Exporter interface {
	Export(c *sample.Collector, m sample.Measurement) (string, error)
}

// Metrics is told about run progress in addition to query events.
type Metrics interface {
	query.Observer
	RunStarted(kind string)
	TickDone(kind string, ok bool)
	Readings(snap []sample.ChannelSnapshot)
	RunFinished(kind, verdict string, elapsed time.Duration)
}

// Result is everything a finished run reports.
type Result struct {
	RunID   uuid.UUID
	Kind    Kind
	Cells   string
	Mode    Mode
	Verdict Verdict
	// Err is the cause of a Fail or Error verdict.
	Err          error
	Ticks        int
	Started      time.Time
	Elapsed      time.Duration
	Collector    *sample.Collector
	FinalVoltage query.Reading
	FinalCurrent query.Reading
	ExportPath   string
}

// Runner executes runs against one instrument link. A Runner may be reused
// for sequential runs; concurrent runs on the same link are refused.
type Runner struct {
	link      instrument.Link
	queryOpts query.Options
	clock     clock.Clock
	logger    *zap.Logger
	metrics   Metrics
	publish   Publisher
	notify    Notifier
	exporter  Exporter
	actions   []Action
	pause     *PauseSwitch
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock used for tick pacing and run duration.
func WithClock(c clock.Clock) Option { return func(r *Runner) { r.clock = c } }

// WithLogger sets the run logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithMetrics reports ticks, readings and verdicts to m.
func WithMetrics(m Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithPublisher receives the final readings of each run.
func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publish = p } }

// WithNotifier receives phase and tick events while a run progresses.
func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notify = n } }

// WithExporter writes the collected samples once a run has settled.
func WithExporter(e Exporter) Option { return func(r *Runner) { r.exporter = e } }

// WithPause lets p suspend sampling between ticks.
func WithPause(p *PauseSwitch) Option { return func(r *Runner) { r.pause = p } }

// WithQueryOptions overrides the retry and timing options of every query.
func WithQueryOptions(o query.Options) Option { return func(r *Runner) { r.queryOpts = o } }

// WithActions sets the child actions run after output is enabled.
func WithActions(a ...Action) Option {
	return func(r *Runner) { r.actions = append(r.actions, a...) }
}

// New returns a Runner for link. The link is borrowed and never closed.
func New(link instrument.Link, opts ...Option) *Runner {
	r := &Runner{
		link:      link,
		queryOpts: query.DefaultOptions(),
		clock:     clock.New(),
		logger:    zap.NewNop(),
		metrics:   nopMetrics{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one run and reports its result. It returns once the output
// has been switched off, whatever the outcome.
func (r *Runner) Run(ctx context.Context, cfg Config) Result {
	cfg = cfg.withDefaults()
	x := r.begin(cfg.Kind, cfg.Cells)
	x.cfg = cfg
	x.res.Mode = cfg.Mode
	x.run(ctx)
	return r.end(x)
}

func (r *Runner) begin(kind Kind, cells string) *execution {
	res := &Result{
		RunID:   uuid.New(),
		Kind:    kind,
		Cells:   cells,
		Started: r.clock.Now(),
	}
	log := r.logger.With(zap.String("run", res.RunID.String()), zap.String("cells", cells))
	x := &execution{Runner: r, res: res, log: log}
	x.querier = query.New(r.link, r.queryOpts,
		query.WithClock(r.clock),
		query.WithLogger(log),
		query.WithObserver(r.metrics))
	r.metrics.RunStarted(string(kind))
	log.Info("run starting", zap.String("kind", string(kind)))
	return x
}

func (r *Runner) end(x *execution) Result {
	res := x.res
	if res.Verdict == NotSet {
		res.Verdict = Pass
	}
	res.Elapsed = r.clock.Since(res.Started)
	r.metrics.RunFinished(string(res.Kind), res.Verdict.String(), res.Elapsed)
	x.log.Info("run finished",
		zap.Stringer("verdict", res.Verdict),
		zap.Int("ticks", res.Ticks),
		zap.Duration("elapsed", res.Elapsed),
		zap.Error(res.Err))
	x.emit(Event{Kind: EventPhase, Phase: PhaseDone, Verdict: res.Verdict})
	return *res
}

// execution is the state of one run.
type execution struct {
	*Runner
	cfg      Config
	res      *Result
	log      *zap.Logger
	querier  *query.Querier
	group    channel.Group
	outputOn bool
}

func (x *execution) run(ctx context.Context) {
	x.phase(PhaseInit)

	group, err := channel.NewGroup(x.cfg.Cells)
	if err != nil {
		x.conclude(Error, errors.Wrapf(err, "cells %q", x.cfg.Cells))
		return
	}
	release, err := instrument.Claim(x.link)
	if err != nil {
		x.conclude(Error, err)
		return
	}
	defer release()

	x.group = group
	x.res.Collector = sample.NewCollector(group.IDs)

	// Cleanup runs even when ctx is already done.
	drainCtx := context.WithoutCancel(ctx)
	if x.cfg.ResetAfter {
		defer x.resetAfter(drainCtx)
	}
	defer func() {
		if err := x.outputOff(drainCtx); err != nil {
			x.log.Error("failed to disable output", zap.Error(err))
		}
	}()

	x.phase(PhaseConfiguring)
	if x.cfg.Setup {
		if err := x.setup(ctx); err != nil {
			if x.cfg.SetupPolicy == FailFast {
				x.conclude(Error, err)
				return
			}
			x.log.Warn("setup incomplete, proceeding", zap.Error(err))
		}
	}
	if err := x.start(ctx); err != nil {
		x.log.Error("failed to start run", zap.Error(err))
		x.conclude(Fail, err)
		return
	}

	x.phase(PhaseRunning)
	aborted := x.loop(ctx)
	if aborted != nil {
		x.log.Error("run aborted", zap.Error(aborted))
		if err := x.outputOff(drainCtx); err != nil {
			x.log.Error("failed to disable output", zap.Error(err))
		}
		x.conclude(Fail, aborted)
	}

	x.phase(PhaseDraining)
	if aborted == nil {
		x.finalReadings(drainCtx)
	}
	if err := x.outputOff(drainCtx); err != nil {
		x.conclude(Fail, errors.Wrap(err, "disable output"))
	}
	x.export()
}

// setup sends the instrument configuration commands. Under Proceed every
// command is tried and the first error returned; under FailFast the first
// error stops it.
func (x *execution) setup(ctx context.Context) error {
	var first error
	failed := func(cmd string, err error) bool {
		err = errors.Wrapf(err, "setup %q", cmd)
		x.log.Error("setup command failed", zap.String("command", cmd), zap.Error(err))
		if first == nil {
			first = err
		}
		return x.cfg.SetupPolicy == FailFast
	}

	idn, err := x.link.Query(ctx, "*IDN?")
	if err != nil {
		if failed("*IDN?", err) {
			return first
		}
	} else {
		x.log.Info("instrument identified", zap.String("idn", idn))
	}

	channels := x.cfg.Channels
	if channels <= 0 {
		channels = x.group.Len()
	}
	var cmds []string
	if x.cfg.ResetOnSetup {
		cmds = append(cmds, "*RST")
	}
	cmds = append(cmds, "SYST:PROB:LIM 1,0", fmt.Sprintf("CELL:DEF:QUICk %d", channels))
	for _, cmd := range cmds {
		if err := x.link.Command(ctx, cmd); err != nil && failed(cmd, err) {
			return first
		}
	}
	return first
}

// start programs the charge step, enables output, runs the child actions
// and initializes the group.
func (x *execution) start(ctx context.Context) error {
	seq := 1
	if c := x.cfg.Charge; c != nil {
		seq = c.sequence()
		if err := x.link.Command(ctx, c.command()); err != nil {
			return errors.Wrap(err, "define charge step")
		}
	}

	x.outputOn = true
	if err := x.link.Command(ctx, "OUTP ON"); err != nil {
		return errors.Wrap(err, "enable output")
	}
	x.log.Info("output enabled")

	for _, a := range x.actions {
		if err := x.runAction(ctx, a); err != nil {
			return errors.Wrapf(err, "action %q", a.Name)
		}
	}

	if x.cfg.InitCells {
		addr := x.group.Address()
		if err := x.link.Command(ctx, fmt.Sprintf("CELL:ENABLE %s,%d", addr, seq)); err != nil {
			return errors.Wrap(err, "enable cells")
		}
		if err := x.link.Command(ctx, "CELL:INIT "+addr); err != nil {
			return errors.Wrap(err, "init cells")
		}
	}
	return nil
}

func (x *execution) runAction(ctx context.Context, a Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()
	x.log.Info("running child action", zap.String("action", a.Name))
	return a.Do(ctx, x.link)
}

// loop ticks until the mode's bound is reached. It returns a non-nil error
// when the run must fail: a tick error in time-bounded mode, or
// cancellation of a bounded run.
func (x *execution) loop(ctx context.Context) error {
	mode := x.cfg.Mode
	interval := x.cfg.TickInterval
	if mode.Bound == ByCount {
		interval = mode.Interval
	}
	start := x.clock.Now()

	for n := 1; ; n++ {
		if !mode.Unbounded() {
			if mode.Bound == ByCount && n > mode.Samples {
				return nil
			}
			if mode.Bound == ByTime && x.clock.Since(start) >= mode.Duration {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return x.cancelled(err)
		}

		if err := x.tick(ctx, n, start); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return x.cancelled(ctxErr)
			}
			if mode.Bound == ByTime {
				return errors.Wrapf(err, "tick %d", n)
			}
			x.log.Error("tick failed, continuing", zap.Int("tick", n), zap.Error(err))
		}

		if mode.Bound == ByCount && !mode.Unbounded() && n == mode.Samples {
			continue
		}
		if err := sleep(ctx, x.clock, interval); err != nil {
			return x.cancelled(err)
		}
	}
}

func (x *execution) cancelled(err error) error {
	if x.cfg.Mode.Unbounded() {
		x.log.Info("monitoring stopped")
		return nil
	}
	return errors.Wrap(err, "run cancelled")
}

func (x *execution) tick(ctx context.Context, n int, start time.Time) error {
	x.res.Ticks = n
	ev := Event{Kind: EventTick, Phase: PhaseRunning, Tick: n}
	if x.pause.Paused() {
		x.log.Info("sleeping", zap.Int("tick", n))
		ev.Paused = true
	} else {
		ev.Err = x.measure(ctx, n)
		x.metrics.TickDone(string(x.cfg.Kind), ev.Err == nil)
	}
	ev.Elapsed = x.clock.Since(start)
	ev.Snapshot = x.res.Collector.Snapshot()
	if !ev.Paused {
		x.metrics.Readings(ev.Snapshot)
	}
	x.emit(ev)
	return ev.Err
}

// measure queries every configured kind and records the responses. A
// NoReading is an error; short or unparsable responses are only logged.
func (x *execution) measure(ctx context.Context, n int) error {
	fields := []zap.Field{zap.Int("tick", n)}
	for _, kind := range x.cfg.Measure.Kinds() {
		cmd := x.queryFor(kind)
		r, err := x.querier.Query(ctx, cmd)
		if err != nil {
			return err
		}
		if !r.Valid() {
			x.res.Collector.Mark(kind, n)
			return errors.Wrapf(query.ErrNoReading, "%s", cmd)
		}
		if r.FromFallback() {
			x.log.Warn("reading came from alternate command", zap.String("query", cmd))
		}

		rep := x.res.Collector.RecordResponse(kind, n, r.Raw())
		if rep.Short() {
			x.log.Warn("short response",
				zap.Stringer("kind", kind),
				zap.Strings("missing", rep.Missing))
		}
		for ch, tok := range rep.Invalid {
			x.log.Warn("unparsable reading",
				zap.Stringer("kind", kind),
				zap.String("channel", ch),
				zap.String("value", tok))
		}
		fields = append(fields, zap.String(kind.String(), r.Raw()))
	}
	x.log.Info("tick", fields...)
	return nil
}

func (x *execution) queryFor(kind sample.Kind) string {
	cmd := x.cfg.VoltageQuery
	if kind == sample.Current {
		cmd = x.cfg.CurrentQuery
	}
	return cmd + " " + x.group.Address()
}

func (x *execution) finalReadings(ctx context.Context) {
	for _, kind := range x.cfg.Measure.Kinds() {
		r, err := x.querier.Query(ctx, x.queryFor(kind))
		if err != nil {
			x.log.Error("final reading failed", zap.Stringer("kind", kind), zap.Error(err))
			continue
		}
		if kind == sample.Voltage {
			x.res.FinalVoltage = r
		} else {
			x.res.FinalCurrent = r
		}
		label := fmt.Sprintf("Final %s (%s)", kind, kind.Unit())
		x.log.Info("final reading", zap.String("label", label), zap.Stringer("value", r))
		if x.publish != nil {
			x.publish(label, r)
		}
	}
}

func (x *execution) outputOff(ctx context.Context) error {
	if !x.outputOn {
		return nil
	}
	if err := x.link.Command(ctx, "OUTP OFF"); err != nil {
		return err
	}
	x.outputOn = false
	x.log.Info("output disabled")
	return nil
}

func (x *execution) export() {
	if x.exporter == nil || x.res.Collector.Empty() {
		return
	}
	path, err := x.exporter.Export(x.res.Collector, x.cfg.Measure)
	if err != nil {
		x.log.Error("export failed", zap.Error(err))
		return
	}
	x.res.ExportPath = path
	x.log.Info("results exported", zap.String("path", path))
}

func (x *execution) resetAfter(ctx context.Context) {
	if err := x.link.Command(ctx, "*RST"); err != nil {
		x.log.Error("post-run reset failed", zap.Error(err))
	}
}

// conclude records the verdict. Only the first call counts.
func (x *execution) conclude(v Verdict, err error) {
	if x.res.Verdict != NotSet {
		x.log.Debug("verdict already set",
			zap.Stringer("verdict", x.res.Verdict),
			zap.Stringer("ignored", v),
			zap.Error(err))
		return
	}
	x.res.Verdict = v
	x.res.Err = err
}

func (x *execution) phase(p Phase) {
	x.log.Debug("phase", zap.Stringer("phase", p))
	x.emit(Event{Kind: EventPhase, Phase: p})
}

func (x *execution) emit(ev Event) {
	if x.notify == nil {
		return
	}
	ev.RunID = x.res.RunID
	x.notify(ev)
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

type nopMetrics struct{}

func (nopMetrics) Attempted(string)                          {}
func (nopMetrics) Retried(string)                            {}
func (nopMetrics) FellBack(string, bool)                     {}
func (nopMetrics) Exhausted(string)                          {}
func (nopMetrics) RunStarted(string)                         {}
func (nopMetrics) TickDone(string, bool)                     {}
func (nopMetrics) Readings([]sample.ChannelSnapshot)         {}
func (nopMetrics) RunFinished(string, string, time.Duration) {}

package plan

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/export"
	"github.com/buckleypaul/cellcycle/internal/instrument"
)

// StepResult is the outcome of one top-level step.
type StepResult struct {
	Index   int
	Step    Step
	Verdict cycle.Verdict
	Err     error
	// Run is set for charge, measure, clear and reset steps.
	Run *cycle.Result
}

// Outcome is the result of a whole plan. Its verdict is the worst step
// verdict.
type Outcome struct {
	Verdict cycle.Verdict
	Steps   []StepResult
	Elapsed time.Duration
}

// Executor runs plans against one link.
type Executor struct {
	link       instrument.Link
	clock      clock.Clock
	logger     *zap.Logger
	exportDir  string
	runnerOpts []cycle.Option
	onStep     func(StepResult)
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used by waits and runs.
func WithClock(c clock.Clock) Option { return func(e *Executor) { e.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithExportDir sets where steps with export: true write their CSV.
func WithExportDir(dir string) Option { return func(e *Executor) { e.exportDir = dir } }

// WithRunnerOptions adds options to every run the plan starts.
func WithRunnerOptions(opts ...cycle.Option) Option {
	return func(e *Executor) { e.runnerOpts = append(e.runnerOpts, opts...) }
}

// WithStepHook is called after each top-level step.
func WithStepHook(fn func(StepResult)) Option { return func(e *Executor) { e.onStep = fn } }

// NewExecutor returns an Executor for link.
func NewExecutor(link instrument.Link, opts ...Option) *Executor {
	e := &Executor{
		link:   link,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs the plan's steps in order. A step that does not pass stops
// the plan only when StopOnFail is set; cancellation always stops it.
func (e *Executor) Execute(ctx context.Context, p *Plan) Outcome {
	start := e.clock.Now()
	log := e.logger.With(zap.String("plan", p.Name))
	out := Outcome{Verdict: cycle.Pass}

	if err := p.validate(); err != nil {
		log.Error("invalid plan", zap.Error(err))
		out.Verdict = cycle.Error
		return out
	}

	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			log.Warn("plan cancelled", zap.Int("remaining", len(p.Steps)-i))
			out.Verdict = cycle.Worst(out.Verdict, cycle.Fail)
			break
		}

		log.Info("step starting", zap.Int("step", i+1), zap.String("name", step.Label()))
		res := e.step(ctx, p, step)
		res.Index = i
		out.Steps = append(out.Steps, res)
		out.Verdict = cycle.Worst(out.Verdict, res.Verdict)
		log.Info("step finished",
			zap.Int("step", i+1),
			zap.String("name", step.Label()),
			zap.Stringer("verdict", res.Verdict),
			zap.Error(res.Err))
		if e.onStep != nil {
			e.onStep(res)
		}

		if res.Verdict != cycle.Pass && p.StopOnFail {
			log.Warn("stopping plan after failed step", zap.Int("step", i+1))
			break
		}
	}
	out.Elapsed = e.clock.Since(start)
	return out
}

func (e *Executor) step(ctx context.Context, p *Plan, s Step) StepResult {
	res := StepResult{Step: s}
	runner := func(extra ...cycle.Option) *cycle.Runner {
		opts := append([]cycle.Option{
			cycle.WithClock(e.clock),
			cycle.WithLogger(e.logger.With(zap.String("step", s.Label()))),
		}, e.runnerOpts...)
		return cycle.New(e.link, append(opts, extra...)...)
	}

	var run cycle.Result
	switch s.Type {
	case StepCharge, StepMeasure:
		var extra []cycle.Option
		for _, c := range s.Children {
			extra = append(extra, cycle.WithActions(e.action(c)))
		}
		if s.Export || s.ExportPath != "" {
			extra = append(extra, cycle.WithExporter(export.CSV{Dir: e.exportDir, Path: s.ExportPath, Clock: e.clock}))
		}
		run = runner(extra...).Run(ctx, s.config(p.setupPolicy))
	case StepClear:
		run = runner().Clear(ctx)
	case StepReset:
		run = runner().Reset(ctx)
	default:
		res.Err = e.standalone(ctx, s)
		res.Verdict = cycle.Pass
		if res.Err != nil {
			res.Verdict = cycle.Error
		}
		return res
	}
	res.Run = &run
	res.Verdict = run.Verdict
	res.Err = run.Err
	return res
}

// standalone runs a command or wait step outside of any run.
func (e *Executor) standalone(ctx context.Context, s Step) error {
	release, err := instrument.Claim(e.link)
	if err != nil {
		return err
	}
	defer release()
	return e.action(s).Do(ctx, e.link)
}

func (e *Executor) action(s Step) cycle.Action {
	switch s.Type {
	case StepWait:
		return cycle.Action{Name: s.Label(), Do: func(ctx context.Context, _ instrument.Link) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clock.After(s.Duration):
				return nil
			}
		}}
	default:
		return cycle.Action{Name: s.Label(), Do: func(ctx context.Context, l instrument.Link) error {
			if strings.Contains(s.Command, "?") {
				resp, err := l.Query(ctx, s.Command)
				if err != nil {
					return errors.Wrapf(err, "%q", s.Command)
				}
				e.logger.Info("query response", zap.String("query", s.Command), zap.String("response", resp))
				return nil
			}
			return errors.Wrapf(l.Command(ctx, s.Command), "%q", s.Command)
		}}
	}
}

package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/plan"
	"github.com/buckleypaul/cellcycle/internal/store"
	"github.com/buckleypaul/cellcycle/internal/ui"
)

func newPlanCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a run plan",
		Long: `Execute the steps of a YAML run plan in order. The plan verdict is the
worst step verdict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			// The executor revalidates, which picks up the configured policy.
			if p.SetupPolicy == "" {
				p.SetupPolicy = app.cfg.SetupPolicy
			}

			ctx := cmd.Context()
			logger, flush, err := app.newLogger(false)
			if err != nil {
				return err
			}
			defer flush()

			link, closeLink, err := app.Dial(ctx, app.cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeLink(); err != nil {
					logger.Warn("closing link", zap.Error(err))
				}
			}()

			exec := plan.NewExecutor(link,
				plan.WithClock(app.clock()),
				plan.WithLogger(logger),
				plan.WithExportDir(app.exportDir()),
				plan.WithRunnerOptions(app.runnerOptions(ctx, logger)...),
				plan.WithStepHook(func(r plan.StepResult) {
					app.printStep(r)
					if r.Run != nil {
						app.record(*r.Run, p.Name, logger)
					}
				}),
			)

			started := app.clock().Now()
			out := exec.Execute(ctx, p)

			path, _ := filepath.Abs(args[0])
			rec := store.PlanRecord{
				Name:      p.Name,
				Path:      path,
				Verdict:   out.Verdict.String(),
				Timestamp: started,
				Duration:  out.Elapsed.Round(time.Millisecond).String(),
				Steps:     len(out.Steps),
			}
			if err := app.store().AddPlan(rec); err != nil {
				logger.Warn("recording plan history", zap.Error(err))
			}

			fmt.Fprintf(app.Out, "%s plan %s: %d of %d steps in %s\n",
				ui.VerdictBadge(out.Verdict.String()), p.Name, len(out.Steps), len(p.Steps), out.Elapsed.Round(time.Millisecond))
			return verdictErr(out.Verdict)
		},
	}
}

func (a *App) printStep(r plan.StepResult) {
	line := fmt.Sprintf("  %d. %-16s %s", r.Index+1, r.Step.Label(), ui.VerdictBadge(r.Verdict.String()))
	if r.Err != nil {
		line += " " + r.Err.Error()
	}
	if r.Run != nil && r.Run.ExportPath != "" {
		line += " -> " + r.Run.ExportPath
	}
	fmt.Fprintln(a.Out, line)
}

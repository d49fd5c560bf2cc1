package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/instrument"
	"github.com/buckleypaul/cellcycle/internal/ui"
)

func newClearCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Abort and clear all cells and sequences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.operate(cmd, func(r *cycle.Runner) cycle.Result { return r.Clear(cmd.Context()) })
		},
	}
}

func newResetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the instrument",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.operate(cmd, func(r *cycle.Runner) cycle.Result { return r.Reset(cmd.Context()) })
		},
	}
}

// operate runs a one-shot instrument operation and records it.
func (a *App) operate(cmd *cobra.Command, op func(*cycle.Runner) cycle.Result) error {
	ctx := cmd.Context()
	logger, flush, err := a.newLogger(false)
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

	res := op(cycle.New(link, a.runnerOptions(ctx, logger)...))
	a.record(res, "", logger)
	a.printResult(res)
	return verdictErr(res.Verdict)
}

func newPortsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := instrument.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(app.Out, ui.DimStyle.Render("no serial ports found"))
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(app.Out, p.Label())
			}
			return nil
		},
	}
}

func newHistoryCommand(app *App) *cobra.Command {
	var limit int
	var plans bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := app.store()
			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(ui.DimStyle).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return ui.TableHeaderStyle
					}
					return lipgloss.NewStyle().Padding(0, 1)
				})

			if plans {
				records, err := st.Plans()
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(app.Out, ui.DimStyle.Render("no plans recorded"))
					return nil
				}
				t.Headers("Time", "Plan", "Verdict", "Steps", "Duration", "Path")
				for _, r := range tail(len(records), limit) {
					rec := records[r]
					t.Row(stamp(rec.Timestamp), rec.Name, rec.Verdict, fmt.Sprint(rec.Steps), rec.Duration, rec.Path)
				}
				fmt.Fprintln(app.Out, t.Render())
				return nil
			}

			records, err := st.Runs()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(app.Out, ui.DimStyle.Render("no runs recorded"))
				return nil
			}
			t.Headers("Time", "Kind", "Cells", "Mode", "Verdict", "Ticks", "Duration", "Export")
			for _, r := range tail(len(records), limit) {
				rec := records[r]
				t.Row(stamp(rec.Timestamp), rec.Kind, rec.Cells, rec.Mode, rec.Verdict, fmt.Sprint(rec.Ticks), rec.Duration, rec.Export)
			}
			fmt.Fprintln(app.Out, t.Render())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show the most recent n records (0 for all)")
	cmd.Flags().BoolVar(&plans, "plans", false, "show plan runs instead of individual runs")
	return cmd
}

// tail returns the indexes of the last n of count records, newest first.
func tail(count, n int) []int {
	if n <= 0 || n > count {
		n = count
	}
	out := make([]int, 0, n)
	for i := count - 1; i >= count-n; i-- {
		out = append(out, i)
	}
	return out
}

func stamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/cellcycle/internal/config"
	"github.com/buckleypaul/cellcycle/internal/ui"
)

func newConfigCommand(app *App) *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "config [key [value]]",
		Short: "Show or change settings",
		Long: `With no arguments, list every setting. With a key, print its value.
With a key and a value, store it in .cellcycle/config.json, or in
~/.config/cellcycle/config.json with --global.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				for _, f := range config.Fields {
					val, _ := app.cfg.Get(f.Key)
					if val == "" {
						val = ui.DimStyle.Render("(not set)")
					}
					fmt.Fprintf(app.Out, "%s %-20s %s\n", ui.BoldStyle.Render(fmt.Sprintf("%-22s", f.Key)), f.Label, val)
				}
				return nil
			case 1:
				val, err := app.cfg.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, val)
				return nil
			}

			// Start from the file being written so values from the other
			// layer and from flags are not copied into it.
			cfg := config.LoadFile(app.Root, global)
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg, app.Root, global); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "%s updated\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "write the user-wide config instead of the workspace one")
	return cmd
}

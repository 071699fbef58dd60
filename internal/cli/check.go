package cli

import (
	"github.com/spf13/cobra"

	"heartbeat/internal/checks"
)

func newCheckCommand(app *App) *cobra.Command {
	var budget budgetFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the periodic checklist",
		Long: `Run the periodic checklist. The agent-dispatch condition starts a dispatch
in the background; results are reported first and the command then waits for
the dispatch to finish before exiting. The exit code is 1 when any check
reports an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := budget.options()
			if err != nil {
				return err
			}

			var starter checks.Starter
			if d, err := app.dispatcher(); err != nil {
				app.logger().Error("agent dispatch unavailable", "error", err)
			} else {
				starter = d
			}

			runner := checks.NewRunner(app.logger(), app.Printer.Checks,
				checks.NewAgentDispatch(starter, opts, app.logger()),
			)
			for _, r := range runner.Run(cmd.Context()) {
				if r.Status == checks.StatusError {
					return NewExitError(1)
				}
			}
			return nil
		},
	}

	budget.register(cmd)
	return cmd
}

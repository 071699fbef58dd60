package cli

import (
	"github.com/spf13/cobra"

	"heartbeat/internal/dispatch"
	"heartbeat/internal/store"
)

type budgetFlags struct {
	maxConcurrent int
	maxItems      int
	timeout       int
	project       string
	priority      string
}

func (f *budgetFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxConcurrent, "max-concurrent", 0, "skip the run when this many agents are active (default from config)")
	cmd.Flags().IntVar(&f.maxItems, "max-items", 0, "maximum items to consider (default from config)")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "per-agent timeout in minutes (default from config)")
	cmd.Flags().StringVar(&f.project, "project", "", "only dispatch items of this project")
	cmd.Flags().StringVar(&f.priority, "priority", "", "only dispatch items of this priority (P0-P3)")
}

func (f *budgetFlags) options() (dispatch.Options, error) {
	opts := dispatch.Options{
		MaxConcurrent: f.maxConcurrent,
		MaxItems:      f.maxItems,
		Timeout:       f.timeout,
		Project:       f.project,
	}
	if f.priority != "" {
		p, err := store.ParsePriority(f.priority)
		if err != nil {
			return opts, err
		}
		opts.Priority = &p
	}
	return opts, nil
}

func newDispatchCommand(app *App) *cobra.Command {
	var (
		budget        budgetFlags
		dryRun        bool
		fireAndForget bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Claim available work items and launch agents",
		Long: `Claim available work items in priority order and launch one agent per item.

The run is skipped when the active-agent census has reached --max-concurrent.
Item failures are reported but do not change the exit code; only an
unreachable store does.

Examples:
  heartbeat dispatch --max-items 2 --max-concurrent 3
  heartbeat dispatch --project web --priority P1 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := budget.options()
			if err != nil {
				return err
			}
			opts.DryRun = dryRun

			d, err := app.dispatcher()
			if err != nil {
				return err
			}

			if fireAndForget {
				ch := d.Start(cmd.Context(), opts)
				app.Printer.Info("dispatch started")
				out := <-ch
				if out.Err != nil {
					return out.Err
				}
				app.logger().Info("dispatch finished",
					"dispatched", len(out.Result.Dispatched),
					"skipped", len(out.Result.Skipped),
					"errors", len(out.Result.Errors))
				return nil
			}

			res, err := d.Dispatch(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return app.Printer.JSON(res)
			}
			app.Printer.DispatchResult(res)
			return nil
		},
	}

	budget.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be dispatched without claiming")
	cmd.Flags().BoolVar(&fireAndForget, "fire-and-forget", false, "start the run in the background and report only that it started")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

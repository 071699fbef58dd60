package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"heartbeat/internal/pipeline"
	"heartbeat/internal/store"
)

func newRunPhaseCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run-phase <item-id>",
		Short: "Claim one pipeline item and run its phase",
		Long: `Claim a specflow work item and run its pipeline phase in the foreground,
exactly as dispatch would: the item is completed on success and released on
failure.

Example:
  heartbeat run-phase specflow-F-001-specify`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := app.store()
			if err != nil {
				return err
			}

			item, err := s.GetWorkItem(ctx, args[0])
			if err != nil {
				return err
			}
			if item.Source != store.SourceSpecflow {
				return fmt.Errorf("work item %s is not a pipeline item (source %q)", item.ID, item.Source)
			}
			if item.Project == "" {
				return fmt.Errorf("work item %s has no project", item.ID)
			}
			project, err := app.Projects.Get(item.Project)
			if err != nil {
				return err
			}

			runner, err := app.phaseRunner()
			if err != nil {
				return err
			}

			sessionID := app.sessionID()
			if err := s.ClaimWorkItem(ctx, item.ID, sessionID); err != nil {
				return err
			}

			st, _ := pipeline.ParseState(item.Metadata)
			if runner.RunPhase(ctx, *item, *project, sessionID) {
				if err := s.CompleteWorkItem(ctx, item.ID, sessionID); err != nil {
					return err
				}
				app.Printer.Success("%s %s completed", st.FeatureID, st.Phase)
				return nil
			}

			if err := s.ReleaseWorkItem(ctx, item.ID, sessionID); err != nil {
				return err
			}
			app.Printer.Error("%s %s failed; %s released (see 'heartbeat items show %s')", st.FeatureID, st.Phase, item.ID, item.ID)
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"heartbeat/internal/pipeline"
	"heartbeat/internal/store"
)

func newPipelineCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Start features and inspect their phase chains",
	}
	cmd.AddCommand(newPipelineStartCommand(app), newPipelineLineageCommand(app))
	return cmd
}

func newPipelineStartCommand(app *App) *cobra.Command {
	var (
		name        string
		project     string
		priority    string
		mainBranch  string
		issueURL    string
		issueRepo   string
		issueNumber int
	)

	cmd := &cobra.Command{
		Use:   "start <feature-id>",
		Short: "Queue the first phase of a feature",
		Long: `Queue the first pipeline phase for a feature. Each later phase is queued
automatically when the previous one succeeds.

Example:
  heartbeat pipeline start F-001 --name Login --project web --issue-repo org/web --issue-number 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			p, err := app.Projects.Get(project)
			if err != nil {
				return err
			}
			prio, err := store.ParsePriority(priority)
			if err != nil {
				return err
			}
			g, err := app.graph()
			if err != nil {
				return err
			}
			if mainBranch == "" {
				mainBranch = p.Branch()
			}

			in, err := pipeline.StartItem(g, pipeline.StartRequest{
				FeatureID:   args[0],
				FeatureName: name,
				ProjectID:   p.ID,
				MainBranch:  mainBranch,
				Priority:    prio,
				IssueURL:    issueURL,
				IssueRepo:   issueRepo,
				IssueNumber: issueNumber,
			})
			if err != nil {
				return err
			}
			item, err := s.CreateWorkItem(cmd.Context(), in)
			if err != nil {
				return err
			}
			_ = s.AppendEvent(cmd.Context(), store.Event{
				Type:       pipeline.EventFeatureStarted,
				WorkItemID: item.ID,
				Summary:    fmt.Sprintf("feature %s queued at %s", args[0], g.First().Name),
				Metadata:   map[string]any{"featureId": args[0], "project": p.ID},
			})
			app.Printer.Success("queued %s", item.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "feature name")
	cmd.Flags().StringVar(&project, "project", "", "project id from the registry")
	cmd.Flags().StringVar(&priority, "priority", "P2", "priority of every phase item (P0-P3)")
	cmd.Flags().StringVar(&mainBranch, "main-branch", "", "base branch for the worktree and PR (default: project main branch)")
	cmd.Flags().StringVar(&issueURL, "issue-url", "", "originating issue URL")
	cmd.Flags().StringVar(&issueRepo, "issue-repo", "", "originating issue repository (owner/repo)")
	cmd.Flags().IntVar(&issueNumber, "issue-number", 0, "originating issue number, closed when the feature completes")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newPipelineLineageCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lineage <feature-id>",
		Short: "Show every work item of a feature in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			g, err := app.graph()
			if err != nil {
				return err
			}
			items, err := s.FeatureLineage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			l := pipeline.BuildLineage(args[0], items)
			if asJSON {
				return app.Printer.JSON(l)
			}
			app.Printer.Lineage(l, g)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"heartbeat/internal/pipeline"
	"heartbeat/internal/registry"
	"heartbeat/internal/store"
	"heartbeat/internal/workspace"
)

func newWorktreeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Maintain feature worktrees",
	}
	cmd.AddCommand(newWorktreeSweepCommand(app))
	return cmd
}

func newWorktreeSweepCommand(app *App) *cobra.Command {
	var (
		project   string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale feature worktrees",
		Long: `Remove feature worktrees that have not changed for --older-than and whose
feature has no open work item. Cleanup after 'complete' is best-effort; this
command catches what it left behind.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := app.store()
			if err != nil {
				return err
			}

			projects := app.Projects.List()
			if project != "" {
				p, err := app.Projects.Get(project)
				if err != nil {
					return err
				}
				projects = []registry.Project{*p}
			}

			ws := app.workspace()
			var removed []string
			for _, p := range projects {
				if p.LocalPath == "" {
					continue
				}
				keep, err := openFeatureBranches(ctx, s, p.ID)
				if err != nil {
					return err
				}
				paths, err := ws.Sweep(ctx, p.LocalPath, p.ID, olderThan, keep)
				if err != nil {
					app.logger().Warn("sweep failed", "project", p.ID, "error", err)
					continue
				}
				removed = append(removed, paths...)
			}
			app.Printer.Swept(removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "only sweep this project")
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "minimum age of a removable worktree")
	return cmd
}

// openFeatureBranches returns the branches of features that still have
// unfinished pipeline items in project.
func openFeatureBranches(ctx context.Context, s *store.SQLiteStore, project string) (map[string]bool, error) {
	items, err := s.ListWorkItems(ctx, store.Filter{Project: project, Source: store.SourceSpecflow})
	if err != nil {
		return nil, err
	}
	keep := map[string]bool{}
	for _, item := range items {
		if item.Status == store.StatusCompleted || item.Status == store.StatusFailed {
			continue
		}
		st, err := pipeline.ParseState(item.Metadata)
		if err != nil {
			continue
		}
		keep[workspace.BranchName(st.FeatureID)] = true
	}
	return keep, nil
}

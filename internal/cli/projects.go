package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"heartbeat/internal/registry"
)

func newProjectsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage the project registry",
	}
	cmd.AddCommand(newProjectsListCommand(app), newProjectsAddCommand(app))
	return cmd
}

func newProjectsListCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects := app.Projects.List()
			if asJSON {
				return app.Printer.JSON(projects)
			}
			app.Printer.Projects(projects)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newProjectsAddCommand(app *App) *cobra.Command {
	var (
		name       string
		mainBranch string
	)

	cmd := &cobra.Command{
		Use:   "add <id> <local-path>",
		Short: "Register a project checkout",
		Long: `Register a project so its work items can be dispatched.

Example:
  heartbeat projects add web ~/src/web --main-branch develop`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}
			p := registry.Project{ID: args[0], Name: name, LocalPath: path, MainBranch: mainBranch}
			if p.Name == "" {
				p.Name = p.ID
			}

			app.Projects.Put(p)
			if err := registry.NewWriter(app.RegistryPath).Save(app.Projects); err != nil {
				return err
			}
			app.Printer.Success("registered %s at %s", p.ID, p.LocalPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&mainBranch, "main-branch", "", "base branch for feature worktrees (default main)")
	return cmd
}

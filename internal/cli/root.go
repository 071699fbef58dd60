// Package cli implements the heartbeat command tree.
//
// Commands share an [App] holding the store, registry, agent launcher and
// phase tool. [Execute] is the production entry point; tests build an App with
// an in-memory store and call [NewRootCommand] directly.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"heartbeat/internal/config"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "heartbeat",
		Short: "Dispatch agent work and drive features through the specflow pipeline",
		Long: `heartbeat claims queued work items and hands them to autonomous agents
under a concurrency budget. Feature items move through the
specify -> plan -> tasks -> implement -> complete pipeline, one work item per phase.

Run 'heartbeat dispatch' from a scheduler, or 'heartbeat check' as part of
the periodic checklist.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newDispatchCommand(app),
		newRunPhaseCommand(app),
		newItemsCommand(app),
		newPipelineCommand(app),
		newEventsCommand(app),
		newAgentsCommand(app),
		newCheckCommand(app),
		newWorktreeCommand(app),
		newProjectsCommand(app),
	)
	return root
}

// ExecuteResult is the outcome of a command tree run.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// RunWithConfig runs the command tree for args against cfg.
func RunWithConfig(ctx context.Context, cfg *config.Config, args []string) ExecuteResult {
	app, err := NewApp(cfg)
	if err != nil {
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	defer app.Close()

	return run(ctx, app, args)
}

func run(ctx context.Context, app *App, args []string) ExecuteResult {
	cmd := NewRootCommand(app)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{}
}

// Execute loads configuration, runs the command line and exits the process.
func Execute() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	res := RunWithConfig(context.Background(), cfg, os.Args[1:])
	if res.Err != nil {
		if _, ok := IsExitError(res.Err); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", res.Err)
		}
	}
	os.Exit(res.ExitCode)
}

package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"heartbeat/internal/store"
)

func newItemsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage work items",
	}
	cmd.AddCommand(
		newItemsListCommand(app),
		newItemsAddCommand(app),
		newItemsShowCommand(app),
		newItemsReleaseCommand(app),
		newItemsFailCommand(app),
	)
	return cmd
}

func newItemsListCommand(app *App) *cobra.Command {
	var (
		status   string
		project  string
		source   string
		priority string
		feature  string
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items, most urgent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}

			f := store.Filter{Status: store.Status(status), Project: project, Source: source, FeatureID: feature, Limit: limit}
			if status != "" && !f.Status.IsValid() {
				return fmt.Errorf("invalid status %q", status)
			}
			if priority != "" {
				p, err := store.ParsePriority(priority)
				if err != nil {
					return err
				}
				f.Priority = &p
			}

			items, err := s.ListWorkItems(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				if items == nil {
					items = []store.WorkItem{}
				}
				return app.Printer.JSON(items)
			}
			app.Printer.Items(items)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (available, claimed, completed, failed, waiting_for_response)")
	cmd.Flags().StringVar(&project, "project", "", "filter by project id")
	cmd.Flags().StringVar(&source, "source", "", "filter by source (specflow, github, manual)")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority (P0-P3)")
	cmd.Flags().StringVar(&feature, "feature", "", "filter pipeline items by feature id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newItemsAddCommand(app *App) *cobra.Command {
	var (
		id          string
		description string
		project     string
		source      string
		sourceRef   string
		priority    string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Queue a work item",
		Long: `Queue a work item for dispatch.

Example:
  heartbeat items add "Fix flaky login test" --project web --priority P1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			p, err := store.ParsePriority(priority)
			if err != nil {
				return err
			}
			if id == "" {
				id = "item-" + uuid.NewString()[:8]
			}

			item, err := s.CreateWorkItem(cmd.Context(), store.NewWorkItem{
				ID:          id,
				Title:       strings.Join(args, " "),
				Description: description,
				Project:     project,
				Source:      source,
				SourceRef:   sourceRef,
				Priority:    p,
			})
			if err != nil {
				return err
			}
			app.Printer.Success("queued %s (%s)", item.ID, item.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "item id (default: generated)")
	cmd.Flags().StringVar(&description, "description", "", "item description, included in the agent prompt")
	cmd.Flags().StringVar(&project, "project", "", "project id from the registry")
	cmd.Flags().StringVar(&source, "source", store.SourceManual, "item source")
	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "reference in the source system (issue URL, ...)")
	cmd.Flags().StringVar(&priority, "priority", "P2", "priority (P0-P3)")
	return cmd
}

func newItemsShowCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a work item and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			item, err := s.GetWorkItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := s.ListEvents(cmd.Context(), store.EventFilter{WorkItemID: item.ID})
			if err != nil {
				return err
			}
			if asJSON {
				return app.Printer.JSON(map[string]any{"item": item, "events": events})
			}
			app.Printer.Item(item, events)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newItemsReleaseCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "release <item-id>",
		Short: "Return a claimed item to the queue",
		Long: `Return a claimed item to available and close the claiming agent session.
Use this after an invocation crashed while holding a claim.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			item, err := s.GetWorkItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if item.Status != store.StatusClaimed {
				app.Printer.Info("%s is %s, nothing to release", item.ID, item.Status)
				return nil
			}
			// Release only the claim observed here; a claim taken since then is left alone.
			if err := s.ReleaseWorkItem(cmd.Context(), item.ID, item.ClaimedBy); err != nil {
				return err
			}
			_ = s.AppendEvent(cmd.Context(), store.Event{
				Type:       "items.released",
				WorkItemID: item.ID,
				SessionID:  item.ClaimedBy,
				Summary:    "released by operator",
			})
			app.Printer.Success("released %s", args[0])
			return nil
		},
	}
}

func newItemsFailCommand(app *App) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <item-id>",
		Short: "Park an item as failed",
		Long: `Mark an open item failed so dispatch stops picking it up. A failed pipeline
item stalls its feature; queue a new phase item to resume it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			if err := s.FailWorkItem(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			_ = s.AppendEvent(cmd.Context(), store.Event{
				Type:       "items.failed",
				WorkItemID: args[0],
				Summary:    reason,
			})
			app.Printer.Success("failed %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "failed by operator", "reason recorded on the item")
	return cmd
}

package cli

import (
	"github.com/spf13/cobra"

	"heartbeat/internal/store"
)

func newEventsCommand(app *App) *cobra.Command {
	var (
		item   string
		typ    string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			events, err := s.ListEvents(cmd.Context(), store.EventFilter{WorkItemID: item, Type: typ, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				if events == nil {
					events = []store.Event{}
				}
				return app.Printer.JSON(events)
			}
			app.Printer.Events(events)
			return nil
		},
	}

	cmd.Flags().StringVar(&item, "item", "", "only events of this work item")
	cmd.Flags().StringVar(&typ, "type", "", "only events of this type (e.g. dispatch.released)")
	cmd.Flags().IntVar(&limit, "limit", 50, "show the newest N events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newAgentsCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Show the active agent census",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.store()
			if err != nil {
				return err
			}
			sessions, err := s.ListActiveAgents(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if sessions == nil {
					sessions = []store.AgentSession{}
				}
				return app.Printer.JSON(sessions)
			}
			app.Printer.Agents(sessions, app.now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

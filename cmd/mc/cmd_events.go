package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/events"
)

func newEventsCmd(app *App) *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"events", "list"}, nil, eventsListHandler(app))
		},
	}
	ack := &cobra.Command{
		Use:   "ack <event-id>",
		Short: "Acknowledge an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"events", "ack"}, map[string]any{"id": args[0]}, eventsAckHandler(app, args[0]))
		},
	}

	root := &cobra.Command{
		Use:   "events",
		Short: "List and acknowledge operational events",
	}
	root.AddCommand(list, ack)
	return root
}

func eventsListHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		records, err := events.List()
		if err != nil {
			return nil, err
		}
		entries := make([]map[string]any, 0, len(records))
		for _, r := range records {
			entries = append(entries, map[string]any{
				"id":           r.ID,
				"type":         r.Type,
				"severity":     string(r.Severity),
				"title":        r.Title,
				"message":      r.Message,
				"source":       r.Source,
				"acknowledged": r.Acknowledged,
				"createdAt":    r.CreatedAt,
			})
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d event(s)", len(records)),
			Data:    map[string]any{"events": entries},
		}, nil
	}
}

func eventsAckHandler(app *App, id string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		rec, err := events.Acknowledge(id)
		if err != nil {
			return nil, err
		}
		return &dispatch.Result{Message: "acknowledged " + rec.ID}, nil
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

func newEventsCommand(c *commandContext) *cobra.Command {
	var (
		propagationID string
		eventType     string
		limit         int
	)
	cmd := &cobra.Command{
		Use:   "events [item-id]",
		Short: "Show the event history of an item or replay a propagation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.EventFilter{PropagationID: propagationID, EventType: eventType, Limit: limit}
			if len(args) == 1 {
				filter.ItemID = args[0]
			}
			if filter.ItemID == "" && filter.PropagationID == "" {
				return errors.New("an item id or --propagation is required")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				events, err := a.source.GetEvents(ctx, filter)
				if err != nil {
					return err
				}
				var trace *store.PropagationTrace
				if filter.PropagationID != "" {
					trace, err = store.NewEventLog(a.source).ReplayPropagation(ctx, filter.PropagationID)
					if err != nil {
						return err
					}
				}

				if c.wantJSON() {
					out := map[string]any{"events": events}
					if trace != nil {
						out["trace"] = trace
					}
					return c.writeJSON(ctx, cmd, out)
				}

				rows := make([][]string, 0, len(events))
				for _, e := range events {
					ts := e.Timestamp
					rows = append(rows, []string{
						strconv.FormatInt(e.Sequence, 10),
						formatTime(&ts),
						e.Type,
						e.ItemID,
						e.Actor,
					})
				}
				printTable(cmd, []string{"Seq", "Time", "Type", "Item", "Actor"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft})
				if trace != nil {
					printTrace(cmd, trace)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&propagationID, "propagation", "", "Replay the propagation with this ID")
	cmd.Flags().StringVar(&eventType, "type", "", "Only show events of this type")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events")
	return cmd
}

func printTrace(cmd *cobra.Command, trace *store.PropagationTrace) {
	mutated, skipped := 0, 0
	for _, st := range trace.Nodes {
		switch st {
		case schema.NodeStatusMutated:
			mutated++
		case schema.NodeStatusSkipped:
			skipped++
		}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Propagation %s: %s\n", trace.PropagationID, trace.Status)
	fmt.Fprintf(out, "  root %s -> %q\n", trace.RootID, trace.StateName)
	fmt.Fprintf(out, "  mutated %d, skipped %d, unlocked %d, republished %d\n",
		mutated, skipped, trace.LocksReleased, trace.Republished)
	if trace.Message != "" {
		fmt.Fprintf(out, "  message: %s\n", trace.Message)
	}
}

func newPublishesCommand(c *commandContext) *cobra.Command {
	var (
		itemID string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "publishes",
		Short: "List republish outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				records, err := a.source.ListPublishRecords(ctx, store.PublishFilter{
					ItemID: itemID,
					Status: schema.PublishStatus(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if c.wantJSON() {
					return c.writeJSON(ctx, cmd, records)
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					created := r.CreatedAt
					rows = append(rows, []string{
						formatTime(&created),
						r.ItemID,
						r.SourceStore + " -> " + r.TargetStore,
						string(r.Status),
						strconv.Itoa(r.Copied),
						r.Error,
					})
				}
				printTable(cmd, []string{"Time", "Item", "Route", "Status", "Copied", "Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "Only show records for this media item")
	cmd.Flags().StringVar(&status, "status", "", "Only show records with this status (completed, failed, rejected)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

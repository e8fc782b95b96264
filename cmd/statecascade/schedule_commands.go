package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/statecascade/internal/store"
)

func newScheduleCommand(c *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-triggered propagations",
	}
	cmd.AddCommand(newScheduleAddCommand(c))
	cmd.AddCommand(newScheduleListCommand(c))
	cmd.AddCommand(newScheduleRemoveCommand(c))
	return cmd
}

func newScheduleAddCommand(c *commandContext) *cobra.Command {
	var cronExpr, condition, actor string
	cmd := &cobra.Command{
		Use:   "add <root-id> <state-name>",
		Short: "Schedule a propagation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sched, err := a.newScheduler()
				if err != nil {
					return err
				}
				sch := &store.Schedule{
					RootID:         args[0],
					StateName:      args[1],
					CronExpression: cronExpr,
					Condition:      condition,
					Actor:          actor,
				}
				if err := sched.AddSchedule(ctx, sch); err != nil {
					return err
				}
				if c.wantJSON() {
					return c.writeJSON(ctx, cmd, sch)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s added, next run %s\n", sch.ID, formatTime(sch.NextRunAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5 fields or @descriptor)")
	cmd.Flags().StringVar(&condition, "condition", "", "CEL guard over `item`; the run is skipped when false")
	cmd.Flags().StringVar(&actor, "actor", "", "User the propagation runs as")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleListCommand(c *commandContext) *cobra.Command {
	var rootID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				schedules, err := a.source.ListSchedules(ctx, store.ScheduleFilter{RootID: rootID})
				if err != nil {
					return err
				}
				if c.wantJSON() {
					return c.writeJSON(ctx, cmd, schedules)
				}
				rows := make([][]string, 0, len(schedules))
				for _, s := range schedules {
					rows = append(rows, []string{
						s.ID,
						s.RootID,
						s.StateName,
						s.CronExpression,
						yesNo(s.Enabled),
						formatTime(s.NextRunAt),
						s.LastRunStatus,
					})
				}
				printTable(cmd, []string{"ID", "Root", "State", "Cron", "Enabled", "Next run", "Last status"}, rows, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rootID, "root", "", "Only list schedules of this root item")
	return cmd
}

func newScheduleRemoveCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.source.DeleteSchedule(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s removed\n", args[0])
				return nil
			})
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rendis/statecascade/internal/engine"
	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/importer"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

func newMigrateCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade every configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				rows := make([][]string, 0)
				for _, name := range a.stores.Names() {
					s, err := a.stores.Get(name)
					if err != nil {
						return err
					}
					v := "-"
					if sv, ok := s.(schemaVersioner); ok {
						n, err := sv.SchemaVersion(ctx)
						if err != nil {
							return fmt.Errorf("schema version of %s: %w", name, err)
						}
						v = strconv.Itoa(n)
					}
					rows = append(rows, []string{name, v, strconv.Itoa(store.LatestSchemaVersion())})
				}
				printTable(cmd, []string{"Store", "Schema", "Latest"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
				return nil
			})
		},
	}
}

func newImportCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Validate and load workflows, items and renderings from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sum, err := importer.New(a.source, a.logger).Import(ctx, raw)
				if err != nil {
					return err
				}
				if c.wantJSON() {
					return c.writeJSON(ctx, cmd, sum)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d workflows, %d items, %d renderings, %d assignments\n",
					sum.Workflows, sum.Items, sum.Renderings, sum.Assignments)
				for _, w := range sum.Warnings {
					fmt.Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
				}
				return nil
			})
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func newPropagateCommand(c *commandContext) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "propagate <root-id> <state-name>",
		Short: "Move an item and its descendants to a workflow state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if actor != "" {
					if err := identity.ValidateActor(actor); err != nil {
						return err
					}
					ctx = identity.WithActor(ctx, actor)
				}
				report := a.propagator.PropagateByID(ctx, args[0], args[1])

				var err error
				if c.wantJSON() {
					err = c.writeJSON(ctx, cmd, report)
				} else {
					printReport(cmd, report)
				}
				if err != nil {
					return err
				}
				if !report.Result.Success {
					return errors.New(report.Result.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "User on whose behalf edits are made (default from config)")
	return cmd
}

func printReport(cmd *cobra.Command, report *engine.Report) {
	rows := make([][]string, 0, len(report.Nodes))
	for _, n := range report.Nodes {
		rows = append(rows, []string{
			strconv.Itoa(n.Depth),
			n.ItemID,
			n.Name,
			string(n.Status),
			yesNo(n.LockReleased),
			strconv.Itoa(n.Republished),
			n.Error,
		})
	}
	if len(rows) > 0 {
		printTable(cmd,
			[]string{"Depth", "Item", "Name", "Status", "Unlocked", "Republished", "Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
	}
	res := report.Result
	if res.Success {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: state %s applied (propagation %s, %s)\n", res.StateID, report.PropagationID, report.Duration)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "FAILED [%s]: %s\n", res.Code, res.Message)
}

func newDatasourcesCommand(c *commandContext) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "datasources <item-id>",
		Short: "List the distinct rendering data sources of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sources, err := engine.ListDatasources(ctx, a.source, args[0], device)
				if err != nil {
					return err
				}
				if c.wantJSON() {
					return c.writeJSON(ctx, cmd, sources)
				}
				for _, s := range sources {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", schema.DefaultDevice, "Device whose renderings are listed")
	return cmd
}

func newItemCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "item <id>",
		Short: "Print an item as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				item, err := a.source.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return c.writeJSON(ctx, cmd, item)
			})
		},
	}
}

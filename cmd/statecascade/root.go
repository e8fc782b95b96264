package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "statecascade",
		Short:         "Move content subtrees through workflow states",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&ctx.logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")
	flags.StringVar(&ctx.jqFlag, "jq", "", "jq filter applied to JSON output (implies --json)")
	flags.BoolVar(&ctx.jsonFlag, "json", false, "Write JSON instead of tables")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newPropagateCommand(ctx))
	rootCmd.AddCommand(newDatasourcesCommand(ctx))
	rootCmd.AddCommand(newItemCommand(ctx))
	rootCmd.AddCommand(newEventsCommand(ctx))
	rootCmd.AddCommand(newPublishesCommand(ctx))
	rootCmd.AddCommand(newScheduleCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

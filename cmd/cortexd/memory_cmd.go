package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/ids"
)

func newMemoryCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Ingest files and check consistency of the tiered memory store",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newMemoryIngestCommand(flags), newMemoryCheckCommand(flags))
	return cmd
}

func newMemoryIngestCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>",
		Short: "Parse a file and upsert its code units into the primary store and vector index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(resolveConfigPath(flags.config))
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.ingester.IngestFile(cmd.Context(), ids.NewWorkspaceID(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d unit(s) in %s\n", result.UnitsStored, result.Duration)
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", e)
			}
			return nil
		},
	}
}

func newMemoryCheckCommand(flags *globalFlags) *cobra.Command {
	var entityType, primaryPrefix, collection string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a consistency check between the primary store and the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(resolveConfigPath(flags.config))
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.checker.Check(cmd.Context(), entityType, primaryPrefix, collection)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d entities (%d sampled)\n", report.Total, report.Sampled)
			for category, count := range report.Counts {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", category, count)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "code_unit", "entity type to check")
	cmd.Flags().StringVar(&primaryPrefix, "primary-prefix", "code_unit:", "primary store key prefix")
	cmd.Flags().StringVar(&collection, "collection", "entities", "vector index collection name")
	return cmd
}

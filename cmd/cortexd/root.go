package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cortexd/cortexd/pkg/telemetry"
)

// globalFlags holds the persistent flags every subcommand inherits,
// following the same hierarchical cobra.Command tree the teacher builds
// for its cron/skills/gateway command groups.
type globalFlags struct {
	format  string
	verbose bool
	config  string
}

// NewRootCommand builds the cortexd command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "cortexd",
		Short:         "Cognitive-memory and multi-agent orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.verbose {
				telemetry.SetLevel(zerolog.DebugLevel)
			}
			if flags.format != "human" && flags.format != "json" && flags.format != "plain" {
				flags.format = "human"
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.format, "format", "human", "output format: human, json, or plain")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug-level logging")
	root.PersistentFlags().StringVar(&flags.config, "config", "", "path to config file (defaults to ~/.cortexd/config.json)")

	root.AddCommand(
		newVersionCommand(),
		newServeCommand(flags),
		newQueryCommand(flags),
		newConfigCommand(flags),
		newMemoryCommand(flags),
	)
	return root
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/orchestrator"
	"github.com/cortexd/cortexd/pkg/synthesis"
)

func newQueryCommand(flags *globalFlags) *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a query through the Lead Agent and print the synthesized result",
		Args:  cobra.MinimumNArgs(1),
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

			text := strings.Join(args, " ")
			q := model.Query{
				Text:        text,
				Complexity:  orchestrator.Classify(text),
				WorkspaceID: ids.WorkspaceID(workspaceID),
				SessionID:   ids.NewSessionID(),
			}

			synth, err := a.orch.HandleQuery(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printSynthesis(cmd, flags.format, synth)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace identifier for this query")
	return cmd
}

func printSynthesis(cmd *cobra.Command, format string, synth synthesis.Synthesis) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(synth, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	case "plain":
		fmt.Fprintln(cmd.OutOrStdout(), synth.Text)
	default:
		fmt.Fprintln(cmd.OutOrStdout(), synth.Text)
		if !synth.Complete {
			fmt.Fprintf(cmd.OutOrStdout(), "\n(incomplete: missing %v)\n", synth.MissingCapabilities)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tokens=%d duration=%s failed=%d\n", synth.TotalTokens, synth.TotalDuration, synth.FailedCount)
	}
	return nil
}

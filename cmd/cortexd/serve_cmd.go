package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexd/cortexd/pkg/config"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cortexd daemon: event bus, process manager, and the scheduled consistency checker",
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

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			go a.checker.RunScheduled(ctx, cfg.Consistency.Schedule, "code_unit", "code_unit:", "entities")

			fmt.Fprintln(cmd.OutOrStdout(), "cortexd daemon started, press Ctrl+C to stop")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-ctx.Done():
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
			return nil
		},
	}
}

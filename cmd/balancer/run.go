package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Layr-Labs/ballast/pkg/balancer"
	"github.com/Layr-Labs/ballast/pkg/logger"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one rebalancing pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})
		sugar := log.Sugar()

		if err := Config.Validate(); err != nil {
			sugar.Errorw("Invalid configuration", "error", err)
			return err
		}

		sugar.Infow("Starting balancer...",
			"cluster", Config.Cluster,
			"backend", Config.Backend,
			"dryRun", Config.DryRun,
		)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		b, cleanup, err := balancer.Wire(ctx, Config, log)
		if err != nil {
			return err
		}
		defer cleanup()

		return b.Run(ctx)
	},
}

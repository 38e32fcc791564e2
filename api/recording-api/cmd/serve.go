// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	recording_app "github.com/rapidaai/recorder/api/recording-api/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the http api and the recording engine",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := recording_app.New(ctx, cfg, logger)
	if err != nil {
		logger.Errorw("failed to start", "error", err)
		return err
	}
	logger.Infow("recorder started", "version", cfg.Version, "format", cfg.RecordingConfig.Format)
	if err := app.Run(ctx); err != nil && err != context.Canceled {
		logger.Errorw("recorder stopped with error", "error", err)
		return err
	}
	logger.Infow("recorder stopped")
	return nil
}

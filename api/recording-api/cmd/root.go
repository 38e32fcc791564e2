// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidaai/recorder/api/recording-api/config"
	"github.com/rapidaai/recorder/pkg/commons"
)

var rootCmd = &cobra.Command{
	Use:          "recorder",
	Short:        "Voice channel recorder with auto-join and conversion",
	Long:         `HTTP control api plus voice recording engine. Commands: serve, migrate, convert.`,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(convertCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.AppConfig, commons.Logger, error) {
	v, err := config.InitConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []commons.Option{commons.Name(cfg.Name), commons.Level(cfg.LogConfig.Level)}
	if cfg.LogConfig.Path != "" {
		opts = append(opts, commons.Path(cfg.LogConfig.Path))
		if !cfg.LogConfig.Rotation {
			// one huge segment is as close to no rotation as lumberjack gets
			opts = append(opts, commons.Rotation(1<<20, 0, 0))
		}
	}
	logger, err := commons.NewApplicationLogger(opts...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

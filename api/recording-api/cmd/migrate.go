// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cmd

import (
	"github.com/spf13/cobra"

	internal_store "github.com/rapidaai/recorder/api/recording-api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the settings and archive tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := internal_store.Open(cfg.DatabaseConfig.Driver, cfg.DatabaseConfig.DSN,
			cfg.DatabaseConfig.MaxOpenConnection, cfg.DatabaseConfig.MaxIdealConnection)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := internal_store.New(logger, db).Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Infow("migration complete", "driver", cfg.DatabaseConfig.Driver)
		return nil
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/config"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/logging"
	"github.com/blogem/cmdb/registry"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long:  "Create the tables of every registered resource type and seed the statuses",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := database.InitializeDatabase(database.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}, registry.Default())
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()

		logger.Info("migrations applied", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}

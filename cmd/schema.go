package cmd

import (
	"fmt"

	"github.com/Rzx-x/Ticket-Agent/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the database schema",
}

var schemaSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create the database if missing and sync all tables",
	RunE:  runSchemaSync,
}

func init() {
	schemaCmd.AddCommand(schemaSyncCmd)
}

func runSchemaSync(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := database.EnsureDatabase(cfg.DatabaseURL(), log); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	db, err := database.Open(cfg.DSN(), database.Options{Logger: log})
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := database.SyncSchema(db); err != nil {
		return err
	}
	log.Info("schema sync: ok", zap.Int("tables", len(database.Models())))
	return nil
}

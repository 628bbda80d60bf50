package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Neomon11/LibLocker/internal/config"
	"github.com/Neomon11/LibLocker/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Long:  `Apply the embedded schema migrations (or those in database.migrations_path) to the session store, then validate the schema.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := database.NewManager(&cfg.Database, zerolog.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	applied, err := store.Migrate()
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := store.ValidateSchema(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if len(applied) == 0 {
		fmt.Fprintf(os.Stdout, "Database %s is up to date\n", cfg.Database.DatabasePath)
		return nil
	}
	green := color.New(color.FgGreen)
	for _, version := range applied {
		green.Fprintf(os.Stdout, "applied %s\n", version)
	}
	fmt.Fprintf(os.Stdout, "Database %s migrated (%d applied)\n", cfg.Database.DatabasePath, len(applied))
	return nil
}

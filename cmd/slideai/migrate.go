package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Majboor/smart-presentation-builder/internal/config"
	"github.com/Majboor/smart-presentation-builder/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := migrationDSN()
		if err != nil {
			return err
		}
		version, err := postgres.Migrate(dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := migrationDSN()
		if err != nil {
			return err
		}
		if err := postgres.Rollback(dsn); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "reverted one migration")
		return nil
	},
}

var migrateDSNFlag string

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDSNFlag, "database-url", "", "PostgreSQL connection string (default: $DATABASE_URL)")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationDSN prefers the flag over the environment; the rest of the
// server configuration is not required for migrations
func migrationDSN() (string, error) {
	if migrateDSNFlag != "" {
		return migrateDSNFlag, nil
	}
	if dsn := config.DatabaseURL(); dsn != "" {
		return dsn, nil
	}
	return "", fmt.Errorf("%w: DATABASE_URL or --database-url is required", config.ErrInvalidConfig)
}

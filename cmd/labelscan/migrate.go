package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/database"
)

// Opening the ledger already applies pending migrations, so this command
// mostly reports what is in place.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply export ledger migrations and show their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		migrator := database.NewMigrator(db.Conn())
		applied, err := migrator.GetAppliedMigrations()
		if err != nil {
			return fmt.Errorf("reading applied migrations: %w", err)
		}
		migrations, err := migrator.LoadMigrations()
		if err != nil {
			return fmt.Errorf("loading migrations: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Migration Status:")
		fmt.Fprintln(out, "=================")
		for _, m := range migrations {
			status := "pending"
			if applied[m.Version] {
				status = "applied"
			}
			fmt.Fprintf(out, "%s - %s [%s]\n", m.Version, m.Name, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

package main

import (
	"fmt"

	"github.com/huangang/trackmirror/internal/models"
	"github.com/spf13/cobra"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create or update the database schema.

Examples:
  mirrorctl migrate
  mirrorctl migrate --seed`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "Also insert default system configuration")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if _, _, err := openDB(); err != nil {
		return err
	}
	if migrateSeed {
		if err := models.SeedDefaultData(); err != nil {
			return fmt.Errorf("seeding defaults: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
	return nil
}

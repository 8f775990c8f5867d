package admin

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbbot/internal/database"
)

const defaultMigrationsDir = "migrations"

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Apply every pending up migration and report the resulting schema version",
		RunE:  runMigrate,
	}

	cmd.Flags().String("migrations", defaultMigrationsDir, "Directory holding migration files")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	dir, _ := cmd.Flags().GetString("migrations")
	status, err := database.RunMigrations(cfg.DatabaseURL, dir, log)
	if err != nil {
		return err
	}

	outputFormat, _ := cmd.Flags().GetString("output")
	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(map[string]any{
			"version": status.Version,
			"dirty":   status.Dirty,
			"applied": status.Applied,
		}, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}

	if status.Applied {
		fmt.Printf("Migrations applied (version %d)\n", status.Version)
	} else {
		fmt.Printf("Database is up to date (version %d)\n", status.Version)
	}
	return nil
}

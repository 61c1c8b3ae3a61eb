package cmd

import (
	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/database"

	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Creates or updates the devices, zones, sensor_readings and commands tables
and the open command index. This is useful for CI/CD pipelines or initial setup;
serve runs the same migrations on startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMigration()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().IntVar(&dbRetries, "db-retries", 5, "Database connection attempts before giving up")
}

// runMigration executes the database migrations
func runMigration() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := connectDatabase(cfg.Database, dbRetries)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.WithField("driver", cfg.Database.Driver).Info("Running database migrations...")
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	log.Info("Database migrations completed successfully")
}

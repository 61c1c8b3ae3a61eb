package cmd

import (
	"fmt"
	"os"

	"example.com/backstage/services/irrigation/config"

	"github.com/spf13/cobra"
)

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

// configValidateCmd reports configuration problems without starting the server
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Loads the configuration from file and IRRIGATION_* environment variables and
reports missing secrets, placeholder values and unsupported settings. Exits
non-zero when serve would refuse to start.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		issues := cfg.Validate()
		if len(issues) == 0 {
			fmt.Println("Configuration OK")
			return
		}

		for _, issue := range issues {
			severity := "warning"
			if issue.Fatal {
				severity = "error"
			}
			fmt.Printf("%-7s %s: %s\n", severity, issue.Key, issue.Message)
		}
		if config.HasFatal(issues) {
			os.Exit(1)
		}
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

package cmd

import (
	"fmt"
	"os"

	"example.com/backstage/services/irrigation/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// log is shared by every command and handed to the components they build
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "irrigation",
	Short: "Smart irrigation device service",
	Long: `Irrigation service for ESP32 irrigation controllers. Devices authenticate,
report zone sensor readings on every sync and receive the irrigation commands
queued for them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}
		if err := config.InitConfig(cfgFile); err != nil {
			return fmt.Errorf("initializing configuration: %w", err)
		}
		return nil
	},
}

// Execute runs the command selected on the command line. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "json", "log format (json, text)")

	rootCmd.Version = Version
}

// setupLogging applies --log-level and --log-format to the shared logger
func setupLogging() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid --log-format %q", logFormat)
	}

	log.SetOutput(os.Stderr)
	return nil
}

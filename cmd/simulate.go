package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/simulator"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	simDeviceID  string
	simServerURL string
	simCount     int
)

// simulateCmd runs simulated ESP32 nodes against a server
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated ESP32 devices",
	Long: `Starts one or more simulated irrigation controllers. Each authenticates,
reports drifting sensor values on the server-provided sync interval and applies
the commands it receives. Stops on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSimulator()
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simDeviceID, "device", "", "device id (defaults to simulator.device_id)")
	simulateCmd.Flags().StringVar(&simServerURL, "server", "", "API base URL (defaults to simulator.server_url)")
	simulateCmd.Flags().IntVar(&simCount, "count", 1, "number of simulated devices")
}

func runSimulator() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	simCfg := simulator.Config{
		ServerURL:     cfg.Simulator.ServerURL,
		DeviceID:      cfg.Simulator.DeviceID,
		SyncInterval:  cfg.Simulator.SyncInterval,
		Timeout:       cfg.Simulator.Timeout,
		RetryAttempts: cfg.Simulator.RetryAttempts,
	}
	if simDeviceID != "" {
		simCfg.DeviceID = simDeviceID
	}
	if simServerURL != "" {
		simCfg.ServerURL = simServerURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"server":  simCfg.ServerURL,
		"device":  simCfg.DeviceID,
		"devices": simCount,
	}).Info("Starting ESP32 simulator")

	if err := simulator.RunFleet(ctx, simCfg, simCount, log); err != nil {
		log.Fatalf("Simulator stopped: %v", err)
	}
	log.Info("Simulator stopped")
}

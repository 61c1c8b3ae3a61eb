package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/backstage/services/irrigation/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var healthTimeout time.Duration

// healthcheckCmd probes a running server
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck [apiURL]",
	Short: "Check a running server",
	Long: `Calls /api/health and /api/devices on a running server and exits non-zero
if either fails. The API URL defaults to simulator.server_url.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		baseURL := cfg.Simulator.ServerURL
		if len(args) > 0 {
			baseURL = args[0]
		}

		if err := runHealthcheck(cmd.Context(), strings.TrimRight(baseURL, "/")); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		fmt.Println("All checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "per request timeout")
}

type healthReport struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Database    string `json:"database"`
}

func runHealthcheck(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: healthTimeout}

	var health healthReport
	if err := getJSON(ctx, client, baseURL+"/health", &health); err != nil {
		return fmt.Errorf("health endpoint: %w", err)
	}
	log.WithFields(logrus.Fields{
		"status":      health.Status,
		"environment": health.Environment,
		"database":    health.Database,
	}).Info("Health endpoint OK")

	var devices []json.RawMessage
	if err := getJSON(ctx, client, baseURL+"/devices", &devices); err != nil {
		return fmt.Errorf("devices endpoint: %w", err)
	}
	log.WithField("devices", len(devices)).Info("Devices endpoint OK")

	return nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

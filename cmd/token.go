package cmd

import (
	"fmt"
	"time"

	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/auth"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

// tokenCmd prints a device token for manual testing
var tokenCmd = &cobra.Command{
	Use:   "token [deviceId]",
	Short: "Generate a device token",
	Long: `Signs a device token with the configured secret, verifies it and prints it
together with a sample sync request. The device does not need to exist yet;
sync requests are rejected until it has authenticated once.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		deviceID := "ESP32-001"
		if len(args) > 0 {
			deviceID = args[0]
		}
		generateToken(deviceID)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
}

func generateToken(deviceID string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	issuer, err := auth.NewIssuer(auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize token issuer: %v", err)
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = issuer.TTL()
	}

	token, expiresAt, err := issuer.IssueWithTTL(deviceID, ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	verified, err := issuer.Verify(token)
	if err != nil || verified != deviceID {
		log.Fatalf("Generated token did not verify: %v", err)
	}

	fmt.Printf("Device:  %s\n", deviceID)
	fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Printf("Token:   %s\n\n", token)
	fmt.Println("Example:")
	fmt.Printf("  curl -X POST http://localhost:%d/api/devices/sync \\\n", cfg.Server.Port)
	fmt.Printf("    -H 'Authorization: Bearer %s' \\\n", token)
	fmt.Println(`    -H 'Content-Type: application/json' \`)
	fmt.Println(`    -d '{"sensorData":[{"zoneId":1,"soilMoisture":25,"temperature":22,"humidity":60,"pressure":1013}]}'`)
}

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/irrigation/api"
	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/auth"
	"example.com/backstage/services/irrigation/internal/cache"
	"example.com/backstage/services/irrigation/internal/database"
	"example.com/backstage/services/irrigation/internal/messaging"
	"example.com/backstage/services/irrigation/internal/repository"
	"example.com/backstage/services/irrigation/internal/service"
	"example.com/backstage/services/irrigation/internal/telemetry"

	"github.com/cenkalti/backoff/v4"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Serve command flags
	disableNewRelic bool
	disablePresence bool
	serverPort      int
	gracefulTimeout int
	dbRetries       int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the irrigation API server that handles device authentication,
sync rounds, and the dashboard endpoints.

The server respects the configuration in config.yaml or specified via the --config flag.
It will gracefully shut down on receiving SIGINT or SIGTERM signals.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startServer(); err != nil {
			log.Fatalf("Server stopped with error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags
	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().BoolVar(&disablePresence, "disable-presence", false, "Disable the sweep that marks silent devices offline")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
	serveCmd.Flags().IntVar(&dbRetries, "db-retries", 5, "Database connection attempts before giving up")
}

// startServer initializes and runs the API server until a shutdown signal arrives
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}
	if disableNewRelic {
		cfg.NewRelic.Enabled = false
	}
	if disablePresence {
		cfg.Presence.Enabled = false
	}

	issues := cfg.Validate()
	logIssues(issues)
	if config.HasFatal(issues) {
		log.Fatal("Configuration is invalid, refusing to start")
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"environment":      cfg.Server.Environment,
		"database_driver":  cfg.Database.Driver,
		"redis_enabled":    cfg.Redis.Enabled,
		"newrelic_enabled": cfg.NewRelic.Enabled,
		"presence_enabled": cfg.Presence.Enabled,
	}).Info("Initializing service components...")

	issuer, err := auth.NewIssuer(auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize token issuer: %v", err)
	}

	db, err := connectDatabase(cfg.Database, dbRetries)
	if err != nil {
		log.Fatalf("Failed to connect to database after %d attempts: %v", dbRetries, err)
	}
	log.Info("Successfully connected to database")
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing database connection")
		}
	}()

	log.Info("Running database migrations...")
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis is optional; the service reads through to the database without it
	var redisClient cache.RedisClient = cache.NewNoopClient()
	if cfg.Redis.Enabled {
		log.Info("Connecting to Redis...")
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, continuing without device cache")
		} else {
			redisClient = client
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing Redis connection")
		}
	}()

	log.Info("Connecting to message broker...")
	msgClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, "irrigation-service", log)
	if err != nil {
		log.Fatalf("Failed to connect to message broker: %v", err)
	}
	defer func() {
		log.Info("Closing messaging connection...")
		if err := msgClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing messaging connection")
		}
	}()

	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled {
		log.Info("Initializing New Relic monitoring...")
		nrApp, err = telemetry.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
		}
	}
	if nrApp != nil {
		defer nrApp.Shutdown(5 * time.Second)
	}

	metrics := telemetry.NewMetrics()

	svc, err := service.NewService(service.ServiceConfig{
		Repository:      repository.NewRepository(db),
		Database:        db,
		Cache:           redisClient,
		CacheTTL:        cfg.Redis.DeviceTTL,
		MessagingClient: msgClient,
		Issuer:          issuer,
		Metrics:         metrics,
		Logger:          log,
	})
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	server := api.NewServer(cfg, log, api.Dependencies{
		Service:  svc,
		Verifier: issuer,
		Metrics:  metrics,
		NewRelic: nrApp,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sweep *service.PresenceSweep
	if cfg.Presence.Enabled {
		sweep, err = service.NewPresenceSweep(svc, log, cfg.Presence.Interval, cfg.Presence.OfflineAfter)
		if err == nil {
			err = sweep.Start(ctx)
		}
		if err != nil {
			log.Fatalf("Failed to start presence sweep: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
		defer cancel()

		if sweep != nil {
			if err := sweep.Shutdown(); err != nil {
				log.Warnf("Presence sweep shutdown error: %v", err)
			}
		}

		log.Info("Shutting down HTTP server...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}

		log.Info("Flushing pending events...")
		return svc.Shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Server shutdown complete")
	return nil
}

// connectDatabase retries the initial connection with exponential backoff
func connectDatabase(cfg config.DatabaseConfig, attempts int) (database.DB, error) {
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	var db database.DB
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		log.WithField("attempt", attempt).Info("Connecting to database...")

		conn, err := database.Connect(cfg)
		if err != nil {
			return err
		}
		if err := conn.Ping(context.Background()); err != nil {
			conn.Close()
			return err
		}
		db = conn
		return nil
	}, backoff.WithMaxRetries(bo, uint64(attempts-1)), func(err error, wait time.Duration) {
		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": attempt,
			"max_retries":   attempts,
			"retry_in":      wait.String(),
		}).Error("Failed to connect to database, retrying...")
	})

	return db, err
}

func logIssues(issues []config.Issue) {
	for _, issue := range issues {
		entry := log.WithFields(logrus.Fields{
			"key":   issue.Key,
			"fatal": issue.Fatal,
		})
		if issue.Fatal {
			entry.Error(issue.Message)
		} else {
			entry.Warn(issue.Message)
		}
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// placeholderSecret is the value shipped in example configuration files
const placeholderSecret = "change-me"

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	NewRelic   NewRelicConfig
	Presence   PresenceConfig
	Simulator  SimulatorConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port           int
	Mode           string // debug, release, test
	Environment    string // development, production
	RequestTimeout time.Duration
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Driver   string // postgres, sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string // sqlite file
}

// AuthConfig holds the device token settings
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
	Issuer   string
	Audience string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	DeviceTTL time.Duration
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	QueueName        string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// PresenceConfig controls the sweep that marks silent devices offline
type PresenceConfig struct {
	Enabled      bool
	Interval     time.Duration
	OfflineAfter time.Duration
}

// SimulatorConfig holds defaults for the simulate command
type SimulatorConfig struct {
	ServerURL     string
	DeviceID      string
	SyncInterval  time.Duration
	Timeout       time.Duration
	RetryAttempts int
}

// IsProduction reports whether error details must be hidden from clients
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	// Set defaults for configuration
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/irrigation-service")
		viper.SetConfigName("config")
	}

	// IRRIGATION_AUTH_SECRET overrides auth.secret
	viper.SetEnvPrefix("IRRIGATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.environment", EnvDevelopment)
	viper.SetDefault("server.request_timeout", 10*time.Second)

	// Database defaults
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "irrigation")
	viper.SetDefault("database.password", "irrigation")
	viper.SetDefault("database.dbname", "smart_irrigation")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", "irrigation.db")

	// Auth defaults - no default secret
	viper.SetDefault("auth.token_ttl", 24*time.Hour)
	viper.SetDefault("auth.issuer", "smart-irrigation-system")
	viper.SetDefault("auth.audience", "esp32-device")

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.device_ttl", 5*time.Minute)

	// Service Bus defaults - no default connection string
	viper.SetDefault("servicebus.queuename", "irrigation-commands")

	// New Relic defaults
	viper.SetDefault("newrelic.appname", "Irrigation Service Local")
	viper.SetDefault("newrelic.enabled", false)

	// Presence sweep defaults
	viper.SetDefault("presence.enabled", true)
	viper.SetDefault("presence.interval", time.Minute)
	viper.SetDefault("presence.offline_after", 5*time.Minute)

	// Simulator defaults
	viper.SetDefault("simulator.server_url", "http://localhost:5000/api")
	viper.SetDefault("simulator.device_id", "ESP32-001")
	viper.SetDefault("simulator.sync_interval", 10*time.Second)
	viper.SetDefault("simulator.timeout", 10*time.Second)
	viper.SetDefault("simulator.retry_attempts", 3)
}

// Load loads the configuration
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetInt("server.port"),
			Mode:           viper.GetString("server.mode"),
			Environment:    viper.GetString("server.environment"),
			RequestTimeout: viper.GetDuration("server.request_timeout"),
		},
		Database: DatabaseConfig{
			Driver:   viper.GetString("database.driver"),
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
			Path:     viper.GetString("database.path"),
		},
		Auth: AuthConfig{
			Secret:   viper.GetString("auth.secret"),
			TokenTTL: viper.GetDuration("auth.token_ttl"),
			Issuer:   viper.GetString("auth.issuer"),
			Audience: viper.GetString("auth.audience"),
		},
		Redis: RedisConfig{
			Enabled:   viper.GetBool("redis.enabled"),
			Host:      viper.GetString("redis.host"),
			Port:      viper.GetInt("redis.port"),
			Password:  viper.GetString("redis.password"),
			DB:        viper.GetInt("redis.db"),
			DeviceTTL: viper.GetDuration("redis.device_ttl"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			QueueName:        viper.GetString("servicebus.queuename"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Presence: PresenceConfig{
			Enabled:      viper.GetBool("presence.enabled"),
			Interval:     viper.GetDuration("presence.interval"),
			OfflineAfter: viper.GetDuration("presence.offline_after"),
		},
		Simulator: SimulatorConfig{
			ServerURL:     viper.GetString("simulator.server_url"),
			DeviceID:      viper.GetString("simulator.device_id"),
			SyncInterval:  viper.GetDuration("simulator.sync_interval"),
			Timeout:       viper.GetDuration("simulator.timeout"),
			RetryAttempts: viper.GetInt("simulator.retry_attempts"),
		},
	}, nil
}

// Issue is a single finding of Validate
type Issue struct {
	Key     string
	Message string
	Fatal   bool
}

// Validate reports configuration problems. Fatal issues prevent the server from starting.
func (c *Config) Validate() []Issue {
	var issues []Issue

	secret := c.Auth.Secret
	switch {
	case secret == "":
		issues = append(issues, Issue{Key: "auth.secret", Message: "not set", Fatal: true})
	case secret == placeholderSecret || (strings.Contains(secret, "<") && strings.Contains(secret, ">")):
		issues = append(issues, Issue{Key: "auth.secret", Message: "contains a placeholder value", Fatal: c.IsProduction()})
	case len(secret) < 32:
		issues = append(issues, Issue{Key: "auth.secret", Message: "shorter than the recommended 32 characters"})
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			issues = append(issues, Issue{Key: "database.host", Message: "not set", Fatal: true})
		}
		if strings.Contains(c.Database.Password, "<") && strings.Contains(c.Database.Password, ">") {
			issues = append(issues, Issue{Key: "database.password", Message: "contains a placeholder value", Fatal: true})
		}
	case "sqlite":
		if c.Database.Path == "" {
			issues = append(issues, Issue{Key: "database.path", Message: "not set", Fatal: true})
		}
	default:
		issues = append(issues, Issue{Key: "database.driver", Message: fmt.Sprintf("unsupported driver %q", c.Database.Driver), Fatal: true})
	}

	if c.Server.Environment != EnvDevelopment && c.Server.Environment != EnvProduction {
		issues = append(issues, Issue{Key: "server.environment", Message: fmt.Sprintf("unknown environment %q", c.Server.Environment)})
	}

	if c.Server.RequestTimeout <= 0 {
		issues = append(issues, Issue{Key: "server.request_timeout", Message: "must be positive", Fatal: true})
	}

	if c.Presence.Enabled && c.Presence.OfflineAfter <= 0 {
		issues = append(issues, Issue{Key: "presence.offline_after", Message: "must be positive when the sweep is enabled", Fatal: true})
	}

	return issues
}

// HasFatal reports whether any issue is fatal
func HasFatal(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Fatal {
			return true
		}
	}
	return false
}

package service

import (
	"context"
	"errors"
	"time"

	"example.com/backstage/services/irrigation/internal/auth"
	"example.com/backstage/services/irrigation/internal/cache"
	"example.com/backstage/services/irrigation/internal/database"
	"example.com/backstage/services/irrigation/internal/messaging"
	"example.com/backstage/services/irrigation/internal/models"
	"example.com/backstage/services/irrigation/internal/repository"
	"example.com/backstage/services/irrigation/internal/telemetry"

	"github.com/sirupsen/logrus"
)

// Service defines the business logic operations
type Service interface {
	// Device registry
	Authenticate(ctx context.Context, deviceID, name, location string) (*Authentication, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	UpdateZone(ctx context.Context, deviceID string, zoneID int, patch models.ZonePatch) (*models.Zone, error)
	UpdateConfiguration(ctx context.Context, deviceID string, patch models.ConfigurationPatch) (*models.DeviceConfiguration, error)

	// Readings
	LatestReadings(ctx context.Context, deviceID string) ([]models.ZoneSnapshot, error)
	ReadingHistory(ctx context.Context, deviceID string, zoneID *int, limit int) ([]*models.Reading, error)

	// Commands
	QueueManualCommand(ctx context.Context, deviceID string, zoneID int, params models.CommandParameters) (*models.Command, error)
	ListCommands(ctx context.Context, deviceID string, status models.CommandStatus, limit int) ([]*models.Command, error)

	// Sync protocol
	Sync(ctx context.Context, device *models.Device, req SyncRequest) (*SyncResult, error)

	// Presence
	MarkStaleDevicesOffline(ctx context.Context, offlineAfter time.Duration) (int, error)

	// Health
	Ping(ctx context.Context) error
	Shutdown() error
}

// service is an implementation of the Service interface
type service struct {
	repo    repository.Repository
	devices *cache.DeviceCache
	issuer  *auth.Issuer
	events  *EventPublisher
	metrics *telemetry.Metrics
	db      database.DB
	log     *logrus.Logger
	now     func() time.Time
}

// ServiceConfig holds the configuration for the service
type ServiceConfig struct {
	Repository      repository.Repository
	Database        database.DB
	Cache           cache.RedisClient
	CacheTTL        time.Duration
	MessagingClient messaging.ServiceBusClient
	Issuer          *auth.Issuer
	Metrics         *telemetry.Metrics
	Logger          *logrus.Logger
	EventWorkers    int
	Clock           func() time.Time
}

// NewService creates a new service instance
func NewService(config ServiceConfig) (Service, error) {
	if config.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if config.Database == nil {
		return nil, errors.New("database is required")
	}
	if config.Issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Cache == nil {
		config.Cache = cache.NewNoopClient()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.MessagingClient == nil {
		config.MessagingClient = messaging.NewMockClient("irrigation-service", config.Logger)
	}
	if config.Metrics == nil {
		config.Metrics = telemetry.NewMetrics()
	}
	if config.EventWorkers <= 0 {
		config.EventWorkers = 2
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &service{
		repo:    config.Repository,
		devices: cache.NewDeviceCache(config.Cache, config.CacheTTL, config.Logger),
		issuer:  config.Issuer,
		events:  NewEventPublisher(config.MessagingClient, config.Logger, config.EventWorkers),
		metrics: config.Metrics,
		db:      config.Database,
		log:     config.Logger,
		now:     config.Clock,
	}, nil
}

func (s *service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Shutdown flushes queued events
func (s *service) Shutdown() error {
	s.events.Stop()
	return nil
}

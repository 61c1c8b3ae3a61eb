package repository

import (
	"context"
	"time"

	"example.com/backstage/services/irrigation/internal/database"
	"example.com/backstage/services/irrigation/internal/models"

	"gorm.io/gorm"
)

// Repository provides data access methods
type Repository interface {
	// Transaction support
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error

	// Device operations
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	FindOrCreateDevice(ctx context.Context, device *models.Device) (*models.Device, bool, error)
	MarkOnline(ctx context.Context, deviceID string, at time.Time) error
	ListDevices(ctx context.Context) ([]*models.Device, error)
	UpdateZone(ctx context.Context, deviceID string, zoneID int, patch models.ZonePatch) (*models.Zone, error)
	UpdateConfiguration(ctx context.Context, deviceID string, patch models.ConfigurationPatch) (*models.Device, error)
	RecordIrrigation(ctx context.Context, deviceID string, zoneID int, at time.Time) error
	MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]string, error)

	// Reading operations
	AppendReading(ctx context.Context, reading *models.Reading) error
	LatestReading(ctx context.Context, deviceID string, zoneID int) (*models.Reading, error)
	ListReadings(ctx context.Context, deviceID string, zoneID *int, limit int) ([]*models.Reading, error)

	// Command operations
	EnqueueIfAbsent(ctx context.Context, cmd *models.Command) (bool, error)
	CreateCommand(ctx context.Context, cmd *models.Command) error
	DrainPending(ctx context.Context, deviceID string, at time.Time) ([]*models.Command, error)
	ListCommands(ctx context.Context, deviceID string, status models.CommandStatus, limit int) ([]*models.Command, error)
}

// repo is an implementation of the Repository interface
type repo struct {
	db database.DB
}

// Helper type for transaction support
type dbWrapper struct {
	db *gorm.DB
}

func (w *dbWrapper) DB() (*gorm.DB, error) {
	return w.db, nil
}

func (w *dbWrapper) Ping(ctx context.Context) error {
	return nil
}

func (w *dbWrapper) Close() error {
	return nil
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{
		db: db,
	}
}

// WithTransaction executes the given function within a database transaction
func (r *repo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &repo{
			db: &dbWrapper{db: tx},
		}
		return fn(ctx, txRepo)
	})
}

// conn returns the gorm handle bound to ctx
func (r *repo) conn(ctx context.Context, op string) (*gorm.DB, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, storeError(op, err)
	}
	return gormDB.WithContext(ctx), nil
}

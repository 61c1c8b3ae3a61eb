package database

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openAutoCommandIndex prevents a second open system command for the same zone.
// Manual commands are not covered so operators can always queue one.
const openAutoCommandIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_commands_open_auto
ON commands (device_id, zone_id)
WHERE status IN ('pending', 'delivered') AND created_by = 'system'`

// DB is an interface for database operations
type DB interface {
	DB() (*gorm.DB, error)
	Ping(ctx context.Context) error
	Close() error
}

// GormDatabase implements the DB interface for GORM
type GormDatabase struct {
	db *gorm.DB
}

// Connect establishes a connection to the database
func Connect(cfg config.DatabaseConfig) (DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		// Foreign keys and a busy timeout so concurrent writers wait instead of failing
		dialector = sqlite.Open(cfg.Path + "?_foreign_keys=on&_busy_timeout=5000")
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DB instance")
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return &GormDatabase{db: db}, nil
}

// New wraps an existing gorm connection
func New(db *gorm.DB) DB {
	return &GormDatabase{db: db}
}

// DB returns the underlying gorm.DB instance
func (d *GormDatabase) DB() (*gorm.DB, error) {
	return d.db, nil
}

// Ping checks that the database answers
func (d *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get DB instance")
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *GormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the tables and the indexes gorm cannot express
func AutoMigrate(db DB) error {
	gormDB, err := db.DB()
	if err != nil {
		return err
	}

	err = gormDB.AutoMigrate(
		&models.Device{},
		&models.Zone{},
		&models.Reading{},
		&models.Command{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to migrate table structures")
	}

	if err := gormDB.Exec(openAutoCommandIndex).Error; err != nil {
		return errors.Wrap(err, "failed to create open command index")
	}

	return nil
}

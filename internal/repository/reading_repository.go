package repository

import (
	"context"

	"example.com/backstage/services/irrigation/internal/models"
)

func (r *repo) AppendReading(ctx context.Context, reading *models.Reading) error {
	if err := reading.Validate(); err != nil {
		return err
	}

	db, err := r.conn(ctx, "append reading")
	if err != nil {
		return err
	}

	return storeError("append reading", db.Create(reading).Error)
}

// LatestReading returns the newest reading of a zone, or nil when the zone never reported
func (r *repo) LatestReading(ctx context.Context, deviceID string, zoneID int) (*models.Reading, error) {
	db, err := r.conn(ctx, "latest reading")
	if err != nil {
		return nil, err
	}

	var readings []*models.Reading
	err = db.Where("device_id = ? AND zone_id = ?", deviceID, zoneID).
		Order("timestamp DESC, id DESC").
		Limit(1).
		Find(&readings).Error
	if err != nil {
		return nil, storeError("latest reading", err)
	}
	if len(readings) == 0 {
		return nil, nil
	}

	return readings[0], nil
}

func (r *repo) ListReadings(ctx context.Context, deviceID string, zoneID *int, limit int) ([]*models.Reading, error) {
	db, err := r.conn(ctx, "list readings")
	if err != nil {
		return nil, err
	}

	query := db.Where("device_id = ?", deviceID)
	if zoneID != nil {
		query = query.Where("zone_id = ?", *zoneID)
	}

	var readings []*models.Reading
	if err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&readings).Error; err != nil {
		return nil, storeError("list readings", err)
	}

	return readings, nil
}

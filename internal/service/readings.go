package service

import (
	"context"

	"example.com/backstage/services/irrigation/internal/models"
)

// Reading history page sizes
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

// LatestReadings pairs every zone of the device with its newest reading.
// A zone that never reported has a nil LatestData.
func (s *service) LatestReadings(ctx context.Context, deviceID string) ([]models.ZoneSnapshot, error) {
	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	snapshots := make([]models.ZoneSnapshot, 0, len(device.Zones))
	for _, zone := range device.Zones {
		latest, err := s.repo.LatestReading(ctx, deviceID, zone.ZoneID)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, models.ZoneSnapshot{
			ZoneID:     zone.ZoneID,
			ZoneName:   zone.Name,
			Threshold:  zone.MoistureThreshold,
			IsActive:   zone.IsActive,
			LatestData: latest,
		})
	}

	return snapshots, nil
}

func (s *service) ReadingHistory(ctx context.Context, deviceID string, zoneID *int, limit int) ([]*models.Reading, error) {
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	return s.repo.ListReadings(ctx, deviceID, zoneID, clampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit))
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

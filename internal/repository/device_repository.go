package repository

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/services/irrigation/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *repo) FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	db, err := r.conn(ctx, "find device")
	if err != nil {
		return nil, err
	}

	return findDevice(db, deviceID)
}

func findDevice(db *gorm.DB, deviceID string) (*models.Device, error) {
	var devices []*models.Device
	err := db.Preload("Zones", func(db *gorm.DB) *gorm.DB {
		return db.Order("zone_id")
	}).Where("device_id = ?", deviceID).Limit(1).Find(&devices).Error
	if err != nil {
		return nil, storeError("find device", err)
	}
	if len(devices) == 0 {
		return nil, models.DeviceNotFound(deviceID)
	}

	return devices[0], nil
}

// FindOrCreateDevice inserts device and its zones unless the deviceId is taken.
// The returned bool reports whether this call created the device; a losing
// concurrent writer gets the stored record instead.
func (r *repo) FindOrCreateDevice(ctx context.Context, device *models.Device) (*models.Device, bool, error) {
	db, err := r.conn(ctx, "create device")
	if err != nil {
		return nil, false, err
	}

	var stored *models.Device
	created := false
	err = db.Transaction(func(tx *gorm.DB) error {
		zones := device.Zones
		result := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "device_id"}}, DoNothing: true}).
			Create(device)
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 1 {
			for i := range zones {
				zones[i].DeviceRef = device.ID
			}
			if len(zones) > 0 {
				if err := tx.Create(&zones).Error; err != nil {
					return err
				}
			}
			created = true
		}

		found, err := findDevice(tx, device.DeviceID)
		if err != nil {
			return err
		}
		stored = found
		return nil
	})
	if err != nil {
		return nil, false, storeError("create device", err)
	}

	return stored, created, nil
}

func (r *repo) MarkOnline(ctx context.Context, deviceID string, at time.Time) error {
	db, err := r.conn(ctx, "mark online")
	if err != nil {
		return err
	}

	result := db.Model(&models.Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"is_online":  true,
			"last_seen":  at,
			"updated_at": at,
		})
	if result.Error != nil {
		return storeError("mark online", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.DeviceNotFound(deviceID)
	}

	return nil
}

func (r *repo) ListDevices(ctx context.Context) ([]*models.Device, error) {
	db, err := r.conn(ctx, "list devices")
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	err = db.Preload("Zones", func(db *gorm.DB) *gorm.DB {
		return db.Order("zone_id")
	}).Order("last_seen DESC").Find(&devices).Error
	if err != nil {
		return nil, storeError("list devices", err)
	}

	return devices, nil
}

func (r *repo) UpdateZone(ctx context.Context, deviceID string, zoneID int, patch models.ZonePatch) (*models.Zone, error) {
	db, err := r.conn(ctx, "update zone")
	if err != nil {
		return nil, err
	}

	var zone *models.Zone
	err = db.Transaction(func(tx *gorm.DB) error {
		device, err := findDevice(tx, deviceID)
		if err != nil {
			return err
		}

		zone = device.Zone(zoneID)
		if zone == nil {
			return &models.NotFoundError{Resource: "zone", ID: fmt.Sprintf("%s/%d", deviceID, zoneID)}
		}

		patch.Apply(zone)
		return tx.Save(zone).Error
	})
	if err != nil {
		return nil, storeError("update zone", err)
	}

	return zone, nil
}

func (r *repo) UpdateConfiguration(ctx context.Context, deviceID string, patch models.ConfigurationPatch) (*models.Device, error) {
	db, err := r.conn(ctx, "update configuration")
	if err != nil {
		return nil, err
	}

	var device *models.Device
	err = db.Transaction(func(tx *gorm.DB) error {
		found, err := findDevice(tx, deviceID)
		if err != nil {
			return err
		}

		patch.Apply(&found.Configuration)
		device = found
		return tx.Model(&models.Device{}).
			Where("id = ?", found.ID).
			Updates(map[string]interface{}{
				"sync_interval":       found.Configuration.SyncInterval,
				"max_irrigation_time": found.Configuration.MaxIrrigationTime,
				"emergency_shutoff":   found.Configuration.EmergencyShutoff,
			}).Error
	})
	if err != nil {
		return nil, storeError("update configuration", err)
	}

	return device, nil
}

func (r *repo) RecordIrrigation(ctx context.Context, deviceID string, zoneID int, at time.Time) error {
	db, err := r.conn(ctx, "record irrigation")
	if err != nil {
		return err
	}

	deviceRef := db.Model(&models.Device{}).Select("id").Where("device_id = ?", deviceID)
	err = db.Model(&models.Zone{}).
		Where("zone_id = ? AND device_ref = (?)", zoneID, deviceRef).
		Update("last_irrigation", at).Error

	return storeError("record irrigation", err)
}

// MarkStaleOffline flips devices not seen since cutoff to offline and returns their ids
func (r *repo) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	db, err := r.conn(ctx, "mark stale offline")
	if err != nil {
		return nil, err
	}

	var deviceIDs []string
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Device{}).
			Where("is_online = ? AND last_seen < ?", true, cutoff).
			Pluck("device_id", &deviceIDs).Error; err != nil {
			return err
		}
		if len(deviceIDs) == 0 {
			return nil
		}

		// last_seen is checked again so a device syncing in between stays online
		return tx.Model(&models.Device{}).
			Where("device_id IN ? AND last_seen < ?", deviceIDs, cutoff).
			Update("is_online", false).Error
	})
	if err != nil {
		return nil, storeError("mark stale offline", err)
	}

	return deviceIDs, nil
}

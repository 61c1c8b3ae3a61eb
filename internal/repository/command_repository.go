package repository

import (
	"context"
	"time"

	"example.com/backstage/services/irrigation/internal/models"

	"gorm.io/gorm/clause"
)

var openStatuses = []models.CommandStatus{models.CommandPending, models.CommandDelivered}

// EnqueueIfAbsent inserts cmd unless the zone already has an open command.
// Concurrent system inserts that pass the check are stopped by idx_commands_open_auto.
func (r *repo) EnqueueIfAbsent(ctx context.Context, cmd *models.Command) (bool, error) {
	db, err := r.conn(ctx, "enqueue command")
	if err != nil {
		return false, err
	}

	var open int64
	err = db.Model(&models.Command{}).
		Where("device_id = ? AND zone_id = ? AND status IN ?", cmd.DeviceID, cmd.ZoneID, openStatuses).
		Count(&open).Error
	if err != nil {
		return false, storeError("enqueue command", err)
	}
	if open > 0 {
		return false, nil
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(cmd)
	if result.Error != nil {
		return false, storeError("enqueue command", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *repo) CreateCommand(ctx context.Context, cmd *models.Command) error {
	db, err := r.conn(ctx, "create command")
	if err != nil {
		return err
	}

	return storeError("create command", db.Create(cmd).Error)
}

// DrainPending moves the device's pending commands to delivered, oldest first.
// Each transition is conditional on the row still being pending, so a command
// is returned by exactly one concurrent drain. On error the commands already
// transitioned are returned with it.
func (r *repo) DrainPending(ctx context.Context, deviceID string, at time.Time) ([]*models.Command, error) {
	db, err := r.conn(ctx, "drain commands")
	if err != nil {
		return nil, err
	}

	var pending []*models.Command
	err = db.Where("device_id = ? AND status = ?", deviceID, models.CommandPending).
		Order("created_at, id").
		Find(&pending).Error
	if err != nil {
		return nil, storeError("drain commands", err)
	}

	delivered := make([]*models.Command, 0, len(pending))
	for _, cmd := range pending {
		result := db.Model(&models.Command{}).
			Where("id = ? AND status = ?", cmd.ID, models.CommandPending).
			Updates(map[string]interface{}{
				"status":       models.CommandDelivered,
				"delivered_at": at,
			})
		if result.Error != nil {
			return delivered, storeError("drain commands", result.Error)
		}
		if result.RowsAffected != 1 {
			continue
		}

		deliveredAt := at
		cmd.Status = models.CommandDelivered
		cmd.DeliveredAt = &deliveredAt
		delivered = append(delivered, cmd)
	}

	return delivered, nil
}

func (r *repo) ListCommands(ctx context.Context, deviceID string, status models.CommandStatus, limit int) ([]*models.Command, error) {
	db, err := r.conn(ctx, "list commands")
	if err != nil {
		return nil, err
	}

	query := db.Where("device_id = ?", deviceID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var commands []*models.Command
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&commands).Error; err != nil {
		return nil, storeError("list commands", err)
	}

	return commands, nil
}

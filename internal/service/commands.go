package service

import (
	"context"

	"example.com/backstage/services/irrigation/internal/messaging"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/sirupsen/logrus"
)

// Command list page sizes
const (
	DefaultCommandLimit = 20
	MaxCommandLimit     = 500
)

// QueueManualCommand queues an operator command. Manual commands are never deduplicated.
func (s *service) QueueManualCommand(ctx context.Context, deviceID string, zoneID int, params models.CommandParameters) (*models.Command, error) {
	if params == nil {
		return nil, models.NewValidationError("command parameters are required")
	}
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	cmd := models.NewCommand(deviceID, zoneID, params, models.OriginUser)
	if err := s.repo.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}

	s.commandQueued(cmd)
	return cmd, nil
}

func (s *service) ListCommands(ctx context.Context, deviceID string, status models.CommandStatus, limit int) ([]*models.Command, error) {
	if status != "" && !status.Valid() {
		return nil, models.NewValidationError("unknown command status %q", status)
	}
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	return s.repo.ListCommands(ctx, deviceID, status, clampLimit(limit, DefaultCommandLimit, MaxCommandLimit))
}

// enqueueAutoIrrigation queues a system irrigate command for the zone unless one is already open
func (s *service) enqueueAutoIrrigation(ctx context.Context, deviceID string, zone *models.Zone) (bool, error) {
	params := models.IrrigateParameters{Duration: zone.IrrigationDuration, Force: false}
	cmd := models.NewCommand(deviceID, zone.ZoneID, params, models.OriginSystem)

	created, err := s.repo.EnqueueIfAbsent(ctx, cmd)
	if err != nil || !created {
		return false, err
	}

	s.commandQueued(cmd)
	return true, nil
}

func (s *service) commandQueued(cmd *models.Command) {
	s.metrics.CommandsQueued.WithLabelValues(string(cmd.CreatedBy), string(cmd.CommandType)).Inc()
	s.events.Publish(messaging.CommandEvent(messaging.EventCommandQueued, cmd, cmd.CreatedAt))

	s.log.WithFields(logrus.Fields{
		"device_id":    cmd.DeviceID,
		"zone_id":      cmd.ZoneID,
		"command_id":   cmd.ID,
		"command_type": cmd.CommandType,
		"created_by":   cmd.CreatedBy,
	}).Info("Command queued")
}

package service

import (
	"context"

	"example.com/backstage/services/irrigation/internal/messaging"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/sirupsen/logrus"
)

// SyncRequest is one batch of zone reports from a device
type SyncRequest struct {
	SensorData       []models.ZoneReport
	IrrigationStatus map[int]models.IrrigationStatus
}

// SyncResult is returned to the device at the end of a sync round
type SyncResult struct {
	Commands       []models.DeliveredCommand
	Configuration  models.DeviceConfiguration
	ReadingsStored int
	CommandsQueued int
}

// Sync runs one synchronization round for an authenticated device: touch the
// device, store and evaluate each zone report in order, then hand over every
// pending command. A failing zone is logged and skipped; its siblings proceed.
func (s *service) Sync(ctx context.Context, device *models.Device, req SyncRequest) (*SyncResult, error) {
	logger := s.log.WithField("device_id", device.DeviceID)

	if err := s.markOnline(ctx, device); err != nil {
		s.metrics.SyncRounds.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &SyncResult{
		Commands:      []models.DeliveredCommand{},
		Configuration: device.Configuration,
	}

	for i, report := range req.SensorData {
		queued, err := s.processZoneReport(ctx, device, report, req.IrrigationStatus)
		if err != nil {
			s.metrics.ReadingsRejected.Inc()
			logger.WithError(err).WithField("index", i).Warn("Skipping zone report")
			continue
		}

		result.ReadingsStored++
		if queued {
			result.CommandsQueued++
		}
	}
	s.metrics.ReadingsStored.Add(float64(result.ReadingsStored))

	now := s.now()
	delivered, err := s.repo.DrainPending(ctx, device.DeviceID, now)
	if err != nil {
		if len(delivered) == 0 {
			s.metrics.SyncRounds.WithLabelValues("error").Inc()
			return nil, err
		}
		// Commands already marked delivered must still reach the device
		logger.WithError(err).Error("Drain interrupted, returning partial command set")
	}

	for _, cmd := range delivered {
		result.Commands = append(result.Commands, cmd.ForDevice())
		s.events.Publish(messaging.CommandEvent(messaging.EventCommandDelivered, cmd, now))
	}
	s.metrics.CommandsDelivered.Add(float64(len(delivered)))
	s.metrics.SyncRounds.WithLabelValues("ok").Inc()

	logger.WithFields(logrus.Fields{
		"readings":  result.ReadingsStored,
		"queued":    result.CommandsQueued,
		"delivered": len(result.Commands),
	}).Debug("Sync complete")

	return result, nil
}

// processZoneReport stores one zone report and applies the auto-irrigation rule.
// It reports whether a command was queued.
func (s *service) processZoneReport(ctx context.Context, device *models.Device, report models.ZoneReport, statuses map[int]models.IrrigationStatus) (bool, error) {
	status := models.IdleStatus()
	if report.ZoneID != nil {
		if reported, ok := statuses[*report.ZoneID]; ok {
			status = reported
		}
	}

	reading, err := report.ToReading(device.DeviceID, status, s.now())
	if err != nil {
		return false, err
	}
	if err := s.repo.AppendReading(ctx, reading); err != nil {
		return false, err
	}

	// Zones are server-authoritative; reports for unknown zones are stored but not evaluated
	zone := device.Zone(reading.ZoneID)
	if zone == nil {
		return false, nil
	}

	if reading.IrrigationStatus.IsIrrigating {
		if err := s.repo.RecordIrrigation(ctx, device.DeviceID, zone.ZoneID, reading.Timestamp); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"device_id": device.DeviceID,
				"zone_id":   zone.ZoneID,
			}).Warn("Failed to record irrigation time")
		} else {
			s.devices.Invalidate(ctx, device.DeviceID)
		}
	}

	if !zone.NeedsIrrigation(reading.SensorData.SoilMoisture) {
		return false, nil
	}

	return s.enqueueAutoIrrigation(ctx, device.DeviceID, zone)
}

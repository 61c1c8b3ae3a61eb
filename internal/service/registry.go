package service

import (
	"context"
	"errors"
	"time"

	"example.com/backstage/services/irrigation/internal/messaging"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/sirupsen/logrus"
)

// Authentication is the result of a device bootstrap call
type Authentication struct {
	Token     string
	ExpiresAt time.Time
	Device    *models.Device
}

// Authenticate registers the device on first contact, marks it online and issues a token.
// Possession of a deviceId is the only credential.
func (s *service) Authenticate(ctx context.Context, deviceID, name, location string) (*Authentication, error) {
	if deviceID == "" {
		return nil, models.NewValidationError("Device ID is required")
	}

	device, err := s.findOrCreate(ctx, deviceID, name, location)
	if err != nil {
		return nil, err
	}

	if err := s.markOnline(ctx, device); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.issuer.IssueWithTTL(deviceID, s.issuer.TTL())
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"device_id":  deviceID,
		"expires_at": expiresAt,
	}).Info("Device authenticated")

	return &Authentication{Token: token, ExpiresAt: expiresAt, Device: device}, nil
}

func (s *service) findOrCreate(ctx context.Context, deviceID, name, location string) (*models.Device, error) {
	device, err := s.GetDevice(ctx, deviceID)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	device, created, err := s.repo.FindOrCreateDevice(ctx, models.NewDevice(deviceID, name, location))
	if err != nil {
		return nil, err
	}
	if created {
		s.log.WithFields(logrus.Fields{
			"device_id": deviceID,
			"name":      device.Name,
			"location":  device.Location,
		}).Info("Registered new device")
	}

	s.devices.Put(ctx, device)
	return device, nil
}

// GetDevice returns the device from the cache or the store. The cached copy's
// isOnline and lastSeen are not kept current; ListDevices always reads the store.
func (s *service) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if device, ok := s.devices.Get(ctx, deviceID); ok {
		return device, nil
	}

	device, err := s.repo.FindDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.devices.Put(ctx, device)
	return device, nil
}

func (s *service) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return s.repo.ListDevices(ctx)
}

func (s *service) markOnline(ctx context.Context, device *models.Device) error {
	now := s.now()
	if err := s.repo.MarkOnline(ctx, device.DeviceID, now); err != nil {
		return err
	}

	device.IsOnline = true
	device.LastSeen = now
	return nil
}

func (s *service) UpdateZone(ctx context.Context, deviceID string, zoneID int, patch models.ZonePatch) (*models.Zone, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	zone, err := s.repo.UpdateZone(ctx, deviceID, zoneID, patch)
	if err != nil {
		return nil, err
	}

	s.devices.Invalidate(ctx, deviceID)
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"zone_id":   zoneID,
		"threshold": zone.MoistureThreshold,
		"active":    zone.IsActive,
	}).Info("Zone updated")

	return zone, nil
}

func (s *service) UpdateConfiguration(ctx context.Context, deviceID string, patch models.ConfigurationPatch) (*models.DeviceConfiguration, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	device, err := s.repo.UpdateConfiguration(ctx, deviceID, patch)
	if err != nil {
		return nil, err
	}

	s.devices.Invalidate(ctx, deviceID)
	s.log.WithField("device_id", deviceID).Info("Device configuration updated")

	return &device.Configuration, nil
}

// MarkStaleDevicesOffline flips devices silent for longer than offlineAfter to offline
func (s *service) MarkStaleDevicesOffline(ctx context.Context, offlineAfter time.Duration) (int, error) {
	now := s.now()
	deviceIDs, err := s.repo.MarkStaleOffline(ctx, now.Add(-offlineAfter))
	if err != nil {
		return 0, err
	}

	for _, deviceID := range deviceIDs {
		s.devices.Invalidate(ctx, deviceID)
		s.events.Publish(messaging.DeviceOfflineEvent(deviceID, now))
	}
	s.metrics.DevicesOffline.Add(float64(len(deviceIDs)))

	return len(deviceIDs), nil
}

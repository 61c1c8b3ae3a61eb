package cache

import (
	"context"
	"encoding/json"
	"time"

	"example.com/backstage/services/irrigation/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DeviceCache is a read-through cache of device records keyed by deviceId.
// Cache failures are logged and treated as misses; the database stays authoritative.
type DeviceCache struct {
	client RedisClient
	ttl    time.Duration
	log    *logrus.Logger
}

// NewDeviceCache creates a device cache on top of client
func NewDeviceCache(client RedisClient, ttl time.Duration, log *logrus.Logger) *DeviceCache {
	return &DeviceCache{client: client, ttl: ttl, log: log}
}

func deviceKey(deviceID string) string {
	return "device:" + deviceID
}

// Get returns the cached device, or false on a miss
func (c *DeviceCache) Get(ctx context.Context, deviceID string) (*models.Device, bool) {
	raw, err := c.client.Get(ctx, deviceKey(deviceID))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.WithError(err).WithField("device_id", deviceID).Warn("Device cache read failed")
		}
		return nil, false
	}

	var device models.Device
	if err := json.Unmarshal([]byte(raw), &device); err != nil {
		c.log.WithError(err).WithField("device_id", deviceID).Warn("Discarding undecodable cached device")
		c.Invalidate(ctx, deviceID)
		return nil, false
	}

	return &device, true
}

// Put stores device until the TTL expires or a write invalidates it
func (c *DeviceCache) Put(ctx context.Context, device *models.Device) {
	raw, err := json.Marshal(device)
	if err != nil {
		c.log.WithError(err).WithField("device_id", device.DeviceID).Warn("Failed to encode device for cache")
		return
	}

	if err := c.client.Set(ctx, deviceKey(device.DeviceID), string(raw), c.ttl); err != nil {
		c.log.WithError(err).WithField("device_id", device.DeviceID).Warn("Device cache write failed")
	}
}

// Invalidate drops the cached device
func (c *DeviceCache) Invalidate(ctx context.Context, deviceID string) {
	if err := c.client.Delete(ctx, deviceKey(deviceID)); err != nil {
		c.log.WithError(err).WithField("device_id", deviceID).Warn("Device cache invalidation failed")
	}
}

package service

import (
	"context"
	"io"
	"testing"
	"time"

	"example.com/backstage/services/irrigation/internal/messaging"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceSweepRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.authenticate(t, "ESP32-001")
	f.authenticate(t, "ESP32-002")

	log := logrus.New()
	log.SetOutput(io.Discard)
	sweep, err := NewPresenceSweep(f.svc, log, time.Hour, 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, sweep.Start(ctx))
	defer sweep.Shutdown()

	f.clock.Advance(3 * time.Minute)
	f.authenticate(t, "ESP32-002")
	f.clock.Advance(3 * time.Minute)
	sweep.RunOnce(ctx)

	devices, err := f.svc.ListDevices(ctx)
	require.NoError(t, err)
	online := map[string]bool{}
	for _, device := range devices {
		online[device.DeviceID] = device.IsOnline
	}
	assert.Equal(t, map[string]bool{"ESP32-001": false, "ESP32-002": true}, online)
}

func TestEventPublisherStopFlushesQueue(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	bus := messaging.NewMockClient("test", log)

	publisher := NewEventPublisher(bus, log, 1)
	for i := 0; i < 5; i++ {
		publisher.Publish(messaging.DeviceOfflineEvent("ESP32-001", time.Now()))
	}
	publisher.Stop()
	assert.Len(t, bus.Sent(), 5)

	// publishing after stop is ignored
	publisher.Publish(messaging.DeviceOfflineEvent("ESP32-001", time.Now()))
	publisher.Stop()
	assert.Len(t, bus.Sent(), 5)
	assert.Equal(t, 1, publisher.QueueStats()["worker_count"])
}

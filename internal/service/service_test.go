package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/auth"
	"example.com/backstage/services/irrigation/internal/database"
	"example.com/backstage/services/irrigation/internal/messaging"
	"example.com/backstage/services/irrigation/internal/models"
	"example.com/backstage/services/irrigation/internal/repository"
	"example.com/backstage/services/irrigation/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     Service
	repo    repository.Repository
	bus     *messaging.MockClient
	metrics *telemetry.Metrics
	issuer  *auth.Issuer
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "irrigation.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.AutoMigrate(db))

	log := logrus.New()
	log.SetOutput(io.Discard)

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	issuer, err := auth.NewIssuer(auth.Config{Secret: "test-secret", TTL: 24 * time.Hour})
	require.NoError(t, err)
	issuer = issuer.WithClock(clock.Now)

	f := &fixture{
		repo:    repository.NewRepository(db),
		bus:     messaging.NewMockClient("test", log),
		metrics: telemetry.NewMetrics(),
		issuer:  issuer,
		clock:   clock,
	}
	f.svc, err = NewService(ServiceConfig{
		Repository:      f.repo,
		Database:        db,
		MessagingClient: f.bus,
		Issuer:          issuer,
		Metrics:         f.metrics,
		Logger:          log,
		Clock:           clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { f.svc.Shutdown() })

	return f
}

func (f *fixture) authenticate(t *testing.T, deviceID string) *models.Device {
	t.Helper()
	result, err := f.svc.Authenticate(context.Background(), deviceID, "", "")
	require.NoError(t, err)
	return result.Device
}

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func report(zoneID int, moisture float64) models.ZoneReport {
	return models.ZoneReport{
		ZoneID:       intPtr(zoneID),
		SoilMoisture: floatPtr(moisture),
		Temperature:  floatPtr(22.5),
		Humidity:     floatPtr(60),
		Pressure:     floatPtr(1013.2),
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)
}

func TestAuthenticateRegistersDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Authenticate(ctx, "ESP32-001", "Greenhouse", "")
	require.NoError(t, err)
	assert.Equal(t, "Greenhouse", result.Device.Name)
	assert.Equal(t, models.DefaultLocation, result.Device.Location)
	assert.Len(t, result.Device.Zones, 3)
	assert.True(t, result.Device.IsOnline)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), result.ExpiresAt)

	deviceID, err := f.issuer.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "ESP32-001", deviceID)

	again, err := f.svc.Authenticate(ctx, "ESP32-001", "Renamed", "")
	require.NoError(t, err)
	assert.Equal(t, "Greenhouse", again.Device.Name)

	devices, err := f.svc.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestAuthenticateRequiresDeviceID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authenticate(context.Background(), "", "", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSyncQueuesAutoIrrigationOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	result, err := f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(1, 20)}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReadingsStored)
	assert.Equal(t, 1, result.CommandsQueued)
	require.Len(t, result.Commands, 1)
	assert.Equal(t, 1, result.Commands[0].ZoneID)
	assert.Equal(t, models.CommandIrrigate, result.Commands[0].CommandType)
	assert.Equal(t, models.IrrigateParameters{Duration: 300, Force: false}, result.Commands[0].Parameters)
	assert.Equal(t, device.Configuration, result.Configuration)

	// the delivered command is still open, so a dry zone does not queue another
	result, err = f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(1, 18)}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.CommandsQueued)
	assert.Empty(t, result.Commands)

	commands, err := f.svc.ListCommands(ctx, "ESP32-001", "", 0)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, models.CommandDelivered, commands[0].Status)
	assert.Equal(t, models.OriginSystem, commands[0].CreatedBy)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommandsQueued.WithLabelValues("system", "irrigate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SyncRounds.WithLabelValues("ok")))
}

func TestSyncThresholdIsStrict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	// zone 1 threshold is 30
	result, err := f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(1, 30)}})
	require.NoError(t, err)
	assert.Empty(t, result.Commands)

	result, err = f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(1, 29.9)}})
	require.NoError(t, err)
	assert.Len(t, result.Commands, 1)
}

func TestSyncSkipsInactiveAndUnknownZones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.authenticate(t, "ESP32-001")

	_, err := f.svc.UpdateZone(ctx, "ESP32-001", 2, models.ZonePatch{IsActive: new(bool)})
	require.NoError(t, err)
	device, err := f.svc.GetDevice(ctx, "ESP32-001")
	require.NoError(t, err)
	require.False(t, device.Zone(2).IsActive)

	result, err := f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(2, 5), report(7, 5)}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReadingsStored)
	assert.Empty(t, result.Commands)

	history, err := f.svc.ReadingHistory(ctx, "ESP32-001", intPtr(7), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSyncToleratesFailingZone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	broken := report(1, 10)
	broken.Temperature = nil

	result, err := f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{broken, report(2, 10)}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReadingsStored)
	require.Len(t, result.Commands, 1)
	assert.Equal(t, 2, result.Commands[0].ZoneID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReadingsRejected))
}

func TestSyncIrrigationStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	statuses := map[int]models.IrrigationStatus{
		2: {IsIrrigating: true, Duration: 120, Reason: models.ReasonManual},
	}
	_, err := f.svc.Sync(ctx, device, SyncRequest{
		SensorData:       []models.ZoneReport{report(1, 50), report(2, 50)},
		IrrigationStatus: statuses,
	})
	require.NoError(t, err)

	snapshots, err := f.svc.LatestReadings(ctx, "ESP32-001")
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, models.IdleStatus(), snapshots[0].LatestData.IrrigationStatus)
	assert.Equal(t, statuses[2], snapshots[1].LatestData.IrrigationStatus)
	assert.Nil(t, snapshots[2].LatestData)
	assert.Equal(t, "Zone 3", snapshots[2].ZoneName)

	stored, err := f.svc.GetDevice(ctx, "ESP32-001")
	require.NoError(t, err)
	require.NotNil(t, stored.Zone(2).LastIrrigation)
	assert.True(t, stored.Zone(2).LastIrrigation.Equal(f.clock.Now()))
	assert.Nil(t, stored.Zone(1).LastIrrigation)
}

func TestSyncMarksDeviceOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	f.clock.Advance(time.Minute)
	_, err := f.svc.Sync(ctx, device, SyncRequest{})
	require.NoError(t, err)

	devices, err := f.svc.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].IsOnline)
	assert.True(t, devices[0].LastSeen.Equal(f.clock.Now()))
}

func TestManualCommandDeliveredOnNextSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	stop, err := f.svc.QueueManualCommand(ctx, "ESP32-001", 1, models.StopParameters{})
	require.NoError(t, err)
	again, err := f.svc.QueueManualCommand(ctx, "ESP32-001", 1, models.StopParameters{})
	require.NoError(t, err)
	assert.NotEqual(t, stop.ID, again.ID)
	assert.Equal(t, models.OriginUser, stop.CreatedBy)

	// open manual commands suppress the automatic one
	result, err := f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(1, 5)}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.CommandsQueued)
	require.Len(t, result.Commands, 2)
	assert.Equal(t, stop.ID, result.Commands[0].CommandID)
	assert.Equal(t, again.ID, result.Commands[1].CommandID)
	assert.Equal(t, models.StopParameters{}, result.Commands[0].Parameters)

	result, err = f.svc.Sync(ctx, device, SyncRequest{})
	require.NoError(t, err)
	assert.Empty(t, result.Commands)
}

func TestManualCommandUnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.QueueManualCommand(context.Background(), "missing", 1, models.StopParameters{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeviceScopedReadsRequireDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LatestReadings(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.ReadingHistory(ctx, "missing", nil, 10)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.ListCommands(ctx, "missing", "", 10)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListCommandsRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t, "ESP32-001")

	_, err := f.svc.ListCommands(context.Background(), "ESP32-001", "lost", 10)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateConfigurationReachesNextSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.authenticate(t, "ESP32-001")

	interval := 60000
	cfg, err := f.svc.UpdateConfiguration(ctx, "ESP32-001", models.ConfigurationPatch{SyncInterval: &interval})
	require.NoError(t, err)
	assert.Equal(t, 60000, cfg.SyncInterval)

	device, err := f.svc.GetDevice(ctx, "ESP32-001")
	require.NoError(t, err)
	result, err := f.svc.Sync(ctx, device, SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 60000, result.Configuration.SyncInterval)
}

func TestUpdateRejectsOutOfRangePatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.authenticate(t, "ESP32-001")

	threshold := 150.0
	_, err := f.svc.UpdateZone(ctx, "ESP32-001", 1, models.ZonePatch{MoistureThreshold: &threshold})
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "moistureThreshold")

	interval := 10
	_, err = f.svc.UpdateConfiguration(ctx, "ESP32-001", models.ConfigurationPatch{SyncInterval: &interval})
	require.ErrorIs(t, err, models.ErrValidation)

	device, err := f.svc.GetDevice(ctx, "ESP32-001")
	require.NoError(t, err)
	assert.Equal(t, 30.0, device.Zone(1).MoistureThreshold)
	assert.Equal(t, models.DefaultSyncInterval, device.Configuration.SyncInterval)
}

func TestMarkStaleDevicesOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.authenticate(t, "ESP32-001")

	count, err := f.svc.MarkStaleDevicesOffline(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	f.clock.Advance(10 * time.Minute)
	count, err = f.svc.MarkStaleDevicesOffline(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	devices, err := f.svc.ListDevices(ctx)
	require.NoError(t, err)
	assert.False(t, devices[0].IsOnline)
}

func TestCommandEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := f.authenticate(t, "ESP32-001")

	_, err := f.svc.Sync(ctx, device, SyncRequest{SensorData: []models.ZoneReport{report(3, 10)}})
	require.NoError(t, err)
	require.NoError(t, f.svc.Shutdown())

	types := map[messaging.EventType]int{}
	for _, msg := range f.bus.Sent() {
		event, ok := msg.Body.(messaging.Event)
		require.True(t, ok)
		assert.Equal(t, "ESP32-001", msg.SessionID)
		assert.NotEmpty(t, event.ID)
		types[event.Type]++
	}
	assert.Equal(t, 1, types[messaging.EventCommandQueued])
	assert.Equal(t, 1, types[messaging.EventCommandDelivered])
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, clampLimit(0, DefaultHistoryLimit, MaxHistoryLimit))
	assert.Equal(t, DefaultHistoryLimit, clampLimit(-3, DefaultHistoryLimit, MaxHistoryLimit))
	assert.Equal(t, 10, clampLimit(10, DefaultHistoryLimit, MaxHistoryLimit))
	assert.Equal(t, MaxCommandLimit, clampLimit(10000, DefaultCommandLimit, MaxCommandLimit))
}

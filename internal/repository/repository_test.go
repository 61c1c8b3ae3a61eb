package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/database"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "irrigation.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.AutoMigrate(db))

	return NewRepository(db)
}

func createDevice(t *testing.T, r Repository, deviceID string) *models.Device {
	t.Helper()
	device, _, err := r.FindOrCreateDevice(context.Background(), models.NewDevice(deviceID, "", ""))
	require.NoError(t, err)
	return device
}

func reading(deviceID string, zoneID int, moisture float64, at time.Time) *models.Reading {
	return &models.Reading{
		DeviceID:         deviceID,
		ZoneID:           zoneID,
		SensorData:       models.SensorData{SoilMoisture: moisture, Temperature: 22, Humidity: 60, Pressure: 1013},
		IrrigationStatus: models.IdleStatus(),
		Timestamp:        at,
	}
}

func TestFindOrCreateDevice(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	device, created, err := r.FindOrCreateDevice(ctx, models.NewDevice("ESP32-001", "", ""))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ESP32-ESP32-001", device.Name)
	assert.Equal(t, models.DefaultLocation, device.Location)
	require.Len(t, device.Zones, 3)
	assert.Equal(t, 1, device.Zones[0].ZoneID)
	assert.Equal(t, 25.0, device.Zones[1].MoistureThreshold)

	again, created, err := r.FindOrCreateDevice(ctx, models.NewDevice("ESP32-001", "Other", "Elsewhere"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, device.ID, again.ID)
	assert.Equal(t, "ESP32-ESP32-001", again.Name)
	assert.Len(t, again.Zones, 3)
}

func TestFindOrCreateDeviceConcurrent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[uint]int)
	createdCount := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			device, created, err := r.FindOrCreateDevice(ctx, models.NewDevice("ESP32-RACE", "", ""))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[device.ID]++
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Len(t, ids, 1)

	devices, err := r.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Len(t, devices[0].Zones, 3)
}

func TestFindDeviceByDeviceIDNotFound(t *testing.T) {
	r := newTestRepository(t)

	_, err := r.FindDeviceByDeviceID(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkOnline(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	createDevice(t, r, "ESP32-001")

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.MarkOnline(ctx, "ESP32-001", seen))

	device, err := r.FindDeviceByDeviceID(ctx, "ESP32-001")
	require.NoError(t, err)
	assert.True(t, device.IsOnline)
	assert.True(t, device.LastSeen.Equal(seen))

	assert.ErrorIs(t, r.MarkOnline(ctx, "missing", seen), models.ErrNotFound)
}

func TestListDevicesOrderedByLastSeen(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	createDevice(t, r, "old")
	createDevice(t, r, "new")

	now := time.Now().UTC()
	require.NoError(t, r.MarkOnline(ctx, "old", now.Add(-time.Hour)))
	require.NoError(t, r.MarkOnline(ctx, "new", now))

	devices, err := r.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "new", devices[0].DeviceID)
	assert.Equal(t, "old", devices[1].DeviceID)
}

func TestUpdateZone(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	createDevice(t, r, "ESP32-001")

	threshold := 42.5
	inactive := false
	zone, err := r.UpdateZone(ctx, "ESP32-001", 2, models.ZonePatch{MoistureThreshold: &threshold, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, 42.5, zone.MoistureThreshold)
	assert.False(t, zone.IsActive)

	device, err := r.FindDeviceByDeviceID(ctx, "ESP32-001")
	require.NoError(t, err)
	stored := device.Zone(2)
	require.NotNil(t, stored)
	assert.Equal(t, 42.5, stored.MoistureThreshold)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "Zone 2", stored.Name)

	_, err = r.UpdateZone(ctx, "ESP32-001", 9, models.ZonePatch{})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.UpdateZone(ctx, "missing", 1, models.ZonePatch{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateConfiguration(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	createDevice(t, r, "ESP32-001")

	interval := 30000
	shutoff := true
	device, err := r.UpdateConfiguration(ctx, "ESP32-001", models.ConfigurationPatch{SyncInterval: &interval, EmergencyShutoff: &shutoff})
	require.NoError(t, err)
	assert.Equal(t, 30000, device.Configuration.SyncInterval)

	stored, err := r.FindDeviceByDeviceID(ctx, "ESP32-001")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceConfiguration{SyncInterval: 30000, MaxIrrigationTime: 600, EmergencyShutoff: true}, stored.Configuration)
}

func TestRecordIrrigation(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	createDevice(t, r, "ESP32-001")
	createDevice(t, r, "ESP32-002")

	at := time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)
	require.NoError(t, r.RecordIrrigation(ctx, "ESP32-001", 3, at))

	device, err := r.FindDeviceByDeviceID(ctx, "ESP32-001")
	require.NoError(t, err)
	require.NotNil(t, device.Zone(3).LastIrrigation)
	assert.True(t, device.Zone(3).LastIrrigation.Equal(at))
	assert.Nil(t, device.Zone(1).LastIrrigation)

	other, err := r.FindDeviceByDeviceID(ctx, "ESP32-002")
	require.NoError(t, err)
	assert.Nil(t, other.Zone(3).LastIrrigation)
}

func TestMarkStaleOffline(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	createDevice(t, r, "stale")
	createDevice(t, r, "fresh")

	now := time.Now().UTC()
	require.NoError(t, r.MarkOnline(ctx, "stale", now.Add(-10*time.Minute)))
	require.NoError(t, r.MarkOnline(ctx, "fresh", now))

	ids, err := r.MarkStaleOffline(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)

	stale, err := r.FindDeviceByDeviceID(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, stale.IsOnline)

	fresh, err := r.FindDeviceByDeviceID(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, fresh.IsOnline)

	ids, err = r.MarkStaleOffline(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAppendReadingRejectsUnknownReason(t *testing.T) {
	r := newTestRepository(t)

	rd := reading("ESP32-001", 1, 20, time.Now())
	rd.IrrigationStatus.Reason = "rain"
	assert.ErrorIs(t, r.AppendReading(context.Background(), rd), models.ErrValidation)
}

func TestLatestAndListReadings(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.AppendReading(ctx, reading("ESP32-001", 1, float64(40-i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, r.AppendReading(ctx, reading("ESP32-001", 2, 50, base)))

	latest, err := r.LatestReading(ctx, "ESP32-001", 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 36.0, latest.SensorData.SoilMoisture)

	none, err := r.LatestReading(ctx, "ESP32-001", 3)
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := r.ListReadings(ctx, "ESP32-001", nil, 50)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	zone := 1
	limited, err := r.ListReadings(ctx, "ESP32-001", &zone, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 36.0, limited[0].SensorData.SoilMoisture)
	assert.Equal(t, 37.0, limited[1].SensorData.SoilMoisture)
}

func TestEnqueueIfAbsent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	params := models.IrrigateParameters{Duration: 300}

	created, err := r.EnqueueIfAbsent(ctx, models.NewCommand("ESP32-001", 1, params, models.OriginSystem))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.EnqueueIfAbsent(ctx, models.NewCommand("ESP32-001", 1, params, models.OriginSystem))
	require.NoError(t, err)
	assert.False(t, created)

	// delivered commands are still open
	_, err = r.DrainPending(ctx, "ESP32-001", time.Now())
	require.NoError(t, err)
	created, err = r.EnqueueIfAbsent(ctx, models.NewCommand("ESP32-001", 1, params, models.OriginSystem))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = r.EnqueueIfAbsent(ctx, models.NewCommand("ESP32-001", 2, params, models.OriginSystem))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestEnqueueIfAbsentSuppressedByManualCommand(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, r.CreateCommand(ctx, models.NewCommand("ESP32-001", 1, models.StopParameters{}, models.OriginUser)))

	created, err := r.EnqueueIfAbsent(ctx, models.NewCommand("ESP32-001", 1, models.IrrigateParameters{Duration: 300}, models.OriginSystem))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnqueueIfAbsentConcurrent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := r.EnqueueIfAbsent(ctx, models.NewCommand("ESP32-001", 1, models.IrrigateParameters{Duration: 300}, models.OriginSystem))
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	commands, err := r.ListCommands(ctx, "ESP32-001", "", 100)
	require.NoError(t, err)
	assert.Len(t, commands, 1)
}

func TestCreateCommandRejectsUnknownType(t *testing.T) {
	r := newTestRepository(t)

	cmd := &models.Command{DeviceID: "ESP32-001", ZoneID: 1, CommandType: "water"}
	assert.ErrorIs(t, r.CreateCommand(context.Background(), cmd), models.ErrValidation)
}

func TestDrainPending(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	first := models.NewCommand("ESP32-001", 1, models.IrrigateParameters{Duration: 120, Force: true}, models.OriginUser)
	second := models.NewCommand("ESP32-001", 2, models.StopParameters{}, models.OriginUser)
	other := models.NewCommand("ESP32-002", 1, models.StopParameters{}, models.OriginUser)
	require.NoError(t, r.CreateCommand(ctx, first))
	require.NoError(t, r.CreateCommand(ctx, second))
	require.NoError(t, r.CreateCommand(ctx, other))

	at := time.Now().UTC()
	delivered, err := r.DrainPending(ctx, "ESP32-001", at)
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, first.ID, delivered[0].ID)
	assert.Equal(t, second.ID, delivered[1].ID)
	assert.Equal(t, models.CommandDelivered, delivered[0].Status)
	assert.Equal(t, models.IrrigateParameters{Duration: 120, Force: true}, delivered[0].Parameters())

	again, err := r.DrainPending(ctx, "ESP32-001", at)
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := r.ListCommands(ctx, "ESP32-001", models.CommandDelivered, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.NotNil(t, stored[0].DeliveredAt)

	pending, err := r.ListCommands(ctx, "ESP32-002", models.CommandPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDrainPendingConcurrent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	for zone := 1; zone <= 5; zone++ {
		require.NoError(t, r.CreateCommand(ctx, models.NewCommand("ESP32-001", zone, models.StopParameters{}, models.OriginUser)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint]int)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			delivered, err := r.DrainPending(ctx, "ESP32-001", time.Now())
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, cmd := range delivered {
				seen[cmd.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 5)
	for id, count := range seen {
		assert.Equal(t, 1, count, "command %d delivered more than once", id)
	}
}

func TestListCommandsNewestFirst(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	var ids []uint
	for zone := 1; zone <= 3; zone++ {
		cmd := models.NewCommand("ESP32-001", zone, models.StopParameters{}, models.OriginUser)
		require.NoError(t, r.CreateCommand(ctx, cmd))
		ids = append(ids, cmd.ID)
	}

	commands, err := r.ListCommands(ctx, "ESP32-001", "", 2)
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, ids[2], commands[0].ID)
	assert.Equal(t, ids[1], commands[1].ID)
}

func TestWithTransactionRollsBack(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	err := r.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.CreateCommand(ctx, models.NewCommand("ESP32-001", 1, models.StopParameters{}, models.OriginUser)); err != nil {
			return err
		}
		return models.NewValidationError("abort")
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	commands, err := r.ListCommands(ctx, "ESP32-001", "", 10)
	require.NoError(t, err)
	assert.Empty(t, commands)
}

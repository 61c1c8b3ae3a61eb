package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a scripted stand-in for the irrigation API
type fakeServer struct {
	mu         sync.Mutex
	authCalls  int
	syncCalls  int
	authStatus []int
	syncStatus []int
	commands   []Command
	lastSync   syncRequest
	lastToken  string
}

func (f *fakeServer) calls() (auth, sync int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.syncCalls
}

func (f *fakeServer) next(statuses *[]int) int {
	if len(*statuses) == 0 {
		return http.StatusOK
	}
	status := (*statuses)[0]
	*statuses = (*statuses)[1:]
	return status
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/devices/authenticate":
		f.authCalls++
		if status := f.next(&f.authStatus); status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"nope"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"token":"tok","configuration":{"zones":[{"zoneId":1},{"zoneId":2}],"syncInterval":2000}}`)
	case "/api/devices/sync":
		f.syncCalls++
		f.lastToken = r.Header.Get("Authorization")
		f.lastSync = syncRequest{}
		_ = json.NewDecoder(r.Body).Decode(&f.lastSync)
		if status := f.next(&f.syncStatus); status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"nope"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(syncResponse{
			Success:       true,
			Commands:      f.commands,
			Configuration: &Configuration{SyncInterval: 5000},
		})
		f.commands = nil
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestDevice(t *testing.T, srv *fakeServer) *Device {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	d := New(Config{
		ServerURL:     ts.URL + "/api/",
		DeviceID:      "ESP32-001",
		RetryAttempts: 3,
		Seed:          42,
	}, log)
	d.retryInterval = time.Millisecond
	return d
}

func TestAuthenticateStoresTokenAndInterval(t *testing.T) {
	srv := &fakeServer{}
	d := newTestDevice(t, srv)

	require.NoError(t, d.Authenticate(context.Background()))

	assert.Equal(t, "tok", d.currentToken())
	assert.Equal(t, 2*time.Second, d.syncInterval())
	assert.Len(t, d.field.zones, 2)
}

func TestAuthenticateRetriesServerErrors(t *testing.T) {
	srv := &fakeServer{authStatus: []int{http.StatusServiceUnavailable, http.StatusInternalServerError}}
	d := newTestDevice(t, srv)

	require.NoError(t, d.Authenticate(context.Background()))
	auth, _ := srv.calls()
	assert.Equal(t, 3, auth)
}

func TestAuthenticateGivesUpAfterRetryAttempts(t *testing.T) {
	srv := &fakeServer{authStatus: []int{500, 500, 500, 500}}
	d := newTestDevice(t, srv)

	err := d.Authenticate(context.Background())
	require.Error(t, err)
	auth, _ := srv.calls()
	assert.Equal(t, 3, auth)
}

func TestAuthenticateDoesNotRetryClientErrors(t *testing.T) {
	srv := &fakeServer{authStatus: []int{http.StatusBadRequest}}
	d := newTestDevice(t, srv)

	err := d.Authenticate(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, "nope", statusErr.Message)
	auth, _ := srv.calls()
	assert.Equal(t, 1, auth)
}

func TestSyncReportsZonesAndAppliesCommands(t *testing.T) {
	srv := &fakeServer{commands: []Command{
		{CommandID: 7, ZoneID: 2, CommandType: "irrigate", Parameters: CommandParameters{Duration: 120}},
	}}
	d := newTestDevice(t, srv)

	commands, err := d.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, commands, 1)

	srv.mu.Lock()
	first := srv.lastSync
	token := srv.lastToken
	srv.mu.Unlock()

	assert.Equal(t, "Bearer tok", token)
	require.Len(t, first.SensorData, 2)
	assert.Equal(t, 1, first.SensorData[0].ZoneID)
	assert.Equal(t, 2, first.SensorData[1].ZoneID)
	assert.Equal(t, "none", first.IrrigationStatus[2].Reason)

	assert.True(t, d.field.zones[2].irrigating)
	assert.Equal(t, 120, d.field.zones[2].duration)
	assert.Equal(t, "threshold", d.field.zones[2].reason)
	assert.False(t, d.field.zones[1].irrigating)
	assert.Equal(t, 5*time.Second, d.syncInterval())

	// the next round reports the open valve
	_, err = d.Sync(context.Background())
	require.NoError(t, err)

	srv.mu.Lock()
	second := srv.lastSync.IrrigationStatus[2]
	srv.mu.Unlock()
	assert.True(t, second.IsIrrigating)
	assert.Equal(t, 120, second.Duration)
}

func TestSyncReauthenticatesAfterUnauthorized(t *testing.T) {
	srv := &fakeServer{syncStatus: []int{http.StatusUnauthorized}}
	d := newTestDevice(t, srv)

	_, err := d.Sync(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, d.currentToken())

	_, err = d.Sync(context.Background())
	require.NoError(t, err)
	auth, syncs := srv.calls()
	assert.Equal(t, 2, auth)
	assert.Equal(t, 2, syncs)
}

func TestSyncBreakerOpensAfterServerErrors(t *testing.T) {
	srv := &fakeServer{syncStatus: []int{500, 500, 500}}
	d := newTestDevice(t, srv)

	for i := 0; i < breakerFailures; i++ {
		_, err := d.Sync(context.Background())
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
	}

	_, err := d.Sync(context.Background())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	_, syncs := srv.calls()
	assert.Equal(t, breakerFailures, syncs)
}

func TestRunStopsWithContext(t *testing.T) {
	srv := &fakeServer{}
	d := newTestDevice(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, syncs := srv.calls()
		return syncs >= 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDeviceIDs(t *testing.T) {
	assert.Equal(t, []string{"ESP32-001"}, DeviceIDs("ESP32-001", 1))
	assert.Equal(t, []string{"ESP32-001"}, DeviceIDs("ESP32-001", 0))
	assert.Equal(t, []string{"node-01", "node-02", "node-03"}, DeviceIDs("node", 3))
}

func TestFieldIrrigationLifecycle(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newField([]int{1, 2, 3}, rand.New(rand.NewSource(1)), func() time.Time { return now })

	assert.True(t, f.apply(Command{ZoneID: 1, CommandType: "irrigate", Parameters: CommandParameters{Duration: 60, Force: true}}))
	assert.True(t, f.apply(Command{ZoneID: 2, CommandType: "irrigate"}))
	assert.Equal(t, "manual", f.zones[1].reason)
	assert.Equal(t, defaultIrrigationSeconds, f.zones[2].duration)

	now = now.Add(61 * time.Second)
	assert.Equal(t, []int{1}, f.finishIrrigation())
	assert.False(t, f.zones[1].irrigating)
	assert.True(t, f.zones[2].irrigating)

	assert.True(t, f.apply(Command{ZoneID: 3, CommandType: "emergency_stop"}))
	assert.False(t, f.zones[2].irrigating)
	assert.Equal(t, "none", f.zones[2].reason)
}

func TestFieldRejectsUnknownCommands(t *testing.T) {
	f := newField([]int{1}, rand.New(rand.NewSource(1)), time.Now)

	assert.False(t, f.apply(Command{ZoneID: 9, CommandType: "irrigate"}))
	assert.False(t, f.apply(Command{ZoneID: 9, CommandType: "stop"}))
	assert.False(t, f.apply(Command{ZoneID: 1, CommandType: "self_destruct"}))
	assert.True(t, f.apply(Command{ZoneID: 1, CommandType: "config_update"}))
}

func TestFieldDriftStaysInRange(t *testing.T) {
	night := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	f := newField([]int{1, 2}, rand.New(rand.NewSource(7)), func() time.Time { return night })
	f.zones[2].irrigating = true

	for i := 0; i < 500; i++ {
		f.drift()
	}

	for _, z := range f.zones {
		assert.GreaterOrEqual(t, z.soilMoisture, 0.0)
		assert.LessOrEqual(t, z.soilMoisture, 100.0)
		assert.GreaterOrEqual(t, z.temperature, 10.0)
		assert.LessOrEqual(t, z.temperature, 45.0)
		assert.GreaterOrEqual(t, z.humidity, 20.0)
		assert.LessOrEqual(t, z.humidity, 100.0)
		assert.GreaterOrEqual(t, z.pressure, 980.0)
		assert.LessOrEqual(t, z.pressure, 1050.0)
		assert.LessOrEqual(t, z.lightLevel, 50.0)
	}
	assert.Equal(t, 100.0, f.zones[2].soilMoisture)
	assert.Equal(t, 0.0, f.zones[1].soilMoisture)
}

// Package simulator reproduces ESP32 irrigation nodes against a running server.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

const (
	breakerFailures = 3
	breakerOpen     = 30 * time.Second
)

// ErrUnauthorized is returned by Sync when the server rejects the token
var ErrUnauthorized = errors.New("device token rejected")

// StatusError is a non-2xx answer from the server
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Config controls one simulated device
type Config struct {
	// ServerURL is the API base, e.g. http://localhost:5000/api
	ServerURL     string
	DeviceID      string
	Name          string
	Location      string
	SyncInterval  time.Duration
	Timeout       time.Duration
	RetryAttempts int
	Seed          int64
}

// Configuration is the device configuration pushed by the server
type Configuration struct {
	Zones []struct {
		ZoneID int `json:"zoneId"`
	} `json:"zones,omitempty"`
	SyncInterval      int  `json:"syncInterval"`
	MaxIrrigationTime int  `json:"maxIrrigationTime"`
	EmergencyShutoff  bool `json:"emergencyShutoff"`
}

type authRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type authResponse struct {
	Success       bool          `json:"success"`
	Token         string        `json:"token"`
	Configuration Configuration `json:"configuration"`
}

type syncRequest struct {
	SensorData       []zoneReport             `json:"sensorData"`
	IrrigationStatus map[int]irrigationStatus `json:"irrigationStatus"`
}

type syncResponse struct {
	Success       bool           `json:"success"`
	Commands      []Command      `json:"commands"`
	Configuration *Configuration `json:"configuration"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Device is a simulated ESP32 node
type Device struct {
	cfg           Config
	client        *http.Client
	breaker       *gobreaker.CircuitBreaker
	log           *logrus.Entry
	rnd           *rand.Rand
	now           func() time.Time
	retryInterval time.Duration

	mu       sync.Mutex
	token    string
	interval time.Duration
	field    *field
}

// New creates a simulated device. Nothing is sent until Authenticate or Run.
func New(cfg Config, log *logrus.Logger) *Device {
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("Smart Irrigation ESP32 - %s", cfg.DeviceID)
	}
	if cfg.Location == "" {
		cfg.Location = "Garden Area A"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	d := &Device{
		cfg:           cfg,
		client:        &http.Client{Timeout: cfg.Timeout},
		log:           log.WithField("device_id", cfg.DeviceID),
		rnd:           rand.New(rand.NewSource(seed)),
		now:           time.Now,
		retryInterval: 500 * time.Millisecond,
		interval:      cfg.SyncInterval,
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sync-" + cfg.DeviceID,
		Timeout: breakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerFailures
		},
		// rejected requests are the device's problem, not the server's
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Sync circuit breaker changed state")
		},
	})
	return d
}

// Authenticate obtains a token, retrying transient failures with exponential backoff
func (d *Device) Authenticate(ctx context.Context) error {
	d.log.Info("Authenticating device")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.RetryAttempts-1)), ctx)

	var resp authResponse
	err := backoff.Retry(func() error {
		err := d.post(ctx, "/devices/authenticate", "", authRequest{
			DeviceID: d.cfg.DeviceID,
			Name:     d.cfg.Name,
			Location: d.cfg.Location,
		}, &resp)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if err != nil {
			d.log.WithError(err).Warn("Authentication attempt failed")
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", d.cfg.DeviceID, err)
	}

	zoneIDs := make([]int, 0, len(resp.Configuration.Zones))
	for _, z := range resp.Configuration.Zones {
		zoneIDs = append(zoneIDs, z.ZoneID)
	}

	d.mu.Lock()
	d.token = resp.Token
	d.applyConfiguration(resp.Configuration)
	if d.field == nil {
		if len(zoneIDs) == 0 {
			zoneIDs = []int{1, 2, 3}
		}
		d.field = newField(zoneIDs, d.rnd, d.now)
	}
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"sync_interval": d.syncInterval().String(),
		"zones":         len(zoneIDs),
	}).Info("Authentication successful")
	return nil
}

// applyConfiguration must be called with mu held
func (d *Device) applyConfiguration(cfg Configuration) {
	if cfg.SyncInterval > 0 {
		d.interval = time.Duration(cfg.SyncInterval) * time.Millisecond
	}
}

func (d *Device) syncInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

func (d *Device) currentToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

// Sync runs one synchronization round: it advances the sensors, reports them and
// applies the returned commands. A rejected token is dropped so that the next
// round authenticates again.
func (d *Device) Sync(ctx context.Context) ([]Command, error) {
	if d.currentToken() == "" {
		d.log.Info("No token available, authenticating")
		if err := d.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	d.field.drift()
	for _, zoneID := range d.field.finishIrrigation() {
		d.log.WithField("zone_id", zoneID).Info("Irrigation completed")
	}
	reports, status := d.field.snapshot()

	token := d.currentToken()
	out, err := d.breaker.Execute(func() (interface{}, error) {
		var resp syncResponse
		err := d.post(ctx, "/devices/sync", token, syncRequest{
			SensorData:       reports,
			IrrigationStatus: status,
		}, &resp)
		return &resp, err
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized {
			d.mu.Lock()
			d.token = ""
			d.mu.Unlock()
			return nil, fmt.Errorf("sync %s: %w", d.cfg.DeviceID, ErrUnauthorized)
		}
		return nil, fmt.Errorf("sync %s: %w", d.cfg.DeviceID, err)
	}

	resp := out.(*syncResponse)
	for _, cmd := range resp.Commands {
		entry := d.log.WithFields(logrus.Fields{
			"command_id":   cmd.CommandID,
			"command_type": cmd.CommandType,
			"zone_id":      cmd.ZoneID,
		})
		if !d.field.apply(cmd) {
			entry.Warn("Ignoring command")
			continue
		}
		entry.Info("Applied command")
	}
	if resp.Configuration != nil {
		d.mu.Lock()
		d.applyConfiguration(*resp.Configuration)
		d.mu.Unlock()
	}

	d.logStatus(reports, status)
	return resp.Commands, nil
}

func (d *Device) logStatus(reports []zoneReport, status map[int]irrigationStatus) {
	if !d.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	for _, r := range reports {
		d.log.WithFields(logrus.Fields{
			"zone_id":       r.ZoneID,
			"soil_moisture": r.SoilMoisture,
			"temperature":   r.Temperature,
			"humidity":      r.Humidity,
			"pressure":      r.Pressure,
			"light_level":   r.LightLevel,
			"irrigating":    status[r.ZoneID].IsIrrigating,
			"reason":        status[r.ZoneID].Reason,
		}).Debug("Zone status")
	}
}

// Run authenticates and then syncs on the server-provided interval until ctx is done
func (d *Device) Run(ctx context.Context) error {
	if err := d.Authenticate(ctx); err != nil {
		return err
	}

	for {
		if _, err := d.Sync(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Warn("Sync failed")
		}

		timer := time.NewTimer(d.syncInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			d.log.Info("Stopping simulated device")
			return nil
		case <-timer.C:
		}
	}
}

func (d *Device) post(ctx context.Context, path, token string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// DeviceIDs names count simulated devices after base
func DeviceIDs(base string, count int) []string {
	if count <= 1 {
		return []string{base}
	}
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		ids = append(ids, fmt.Sprintf("%s-%02d", base, i))
	}
	return ids
}

// RunFleet runs count devices concurrently until ctx is done or one of them
// fails to authenticate
func RunFleet(ctx context.Context, cfg Config, count int, log *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range DeviceIDs(cfg.DeviceID, count) {
		deviceCfg := cfg
		deviceCfg.DeviceID = id
		if cfg.Seed != 0 {
			deviceCfg.Seed = cfg.Seed + int64(i)
		}
		device := New(deviceCfg, log)
		g.Go(func() error {
			return device.Run(ctx)
		})
	}
	return g.Wait()
}

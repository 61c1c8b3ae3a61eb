package simulator

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const defaultIrrigationSeconds = 300

// zoneState is the simulated sensor and valve state of one zone
type zoneState struct {
	soilMoisture float64
	temperature  float64
	humidity     float64
	pressure     float64
	lightLevel   float64

	irrigating bool
	duration   int
	reason     string
	startedAt  time.Time
}

// zoneReport mirrors one element of the sync sensorData array
type zoneReport struct {
	ZoneID       int     `json:"zoneId"`
	SoilMoisture float64 `json:"soilMoisture"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	Pressure     float64 `json:"pressure"`
	LightLevel   float64 `json:"lightLevel"`
}

type irrigationStatus struct {
	IsIrrigating bool   `json:"isIrrigating"`
	Duration     int    `json:"duration"`
	Reason       string `json:"reason"`
}

// Command is a command received in a sync response
type Command struct {
	CommandID   uint              `json:"commandId"`
	ZoneID      int               `json:"zoneId"`
	CommandType string            `json:"commandType"`
	Parameters  CommandParameters `json:"parameters"`
}

// CommandParameters is the union of every command type's parameters
type CommandParameters struct {
	Duration     int      `json:"duration"`
	Force        bool     `json:"force"`
	NewThreshold *float64 `json:"newThreshold"`
}

// field holds the simulated zones of one device. It is safe for concurrent use.
type field struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	zones map[int]*zoneState
	now   func() time.Time
}

func newField(zoneIDs []int, rnd *rand.Rand, now func() time.Time) *field {
	f := &field{
		rnd:   rnd,
		zones: make(map[int]*zoneState, len(zoneIDs)),
		now:   now,
	}
	for _, id := range zoneIDs {
		f.zones[id] = &zoneState{
			soilMoisture: f.between(20, 80),
			temperature:  f.between(18, 35),
			humidity:     f.between(40, 90),
			pressure:     f.between(1000, 1030),
			lightLevel:   f.between(0, 1000),
			reason:       "none",
		}
	}
	return f
}

// between returns a value in [lo, hi) rounded to two decimals
func (f *field) between(lo, hi float64) float64 {
	return math.Round((f.rnd.Float64()*(hi-lo)+lo)*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// drift advances every zone by one sync round
func (f *field) drift() {
	f.mu.Lock()
	defer f.mu.Unlock()

	hour := f.now().Hour()
	for _, z := range f.zones {
		if z.irrigating {
			z.soilMoisture = math.Min(100, z.soilMoisture+f.between(2, 8))
		} else {
			// evaporation
			z.soilMoisture = math.Max(0, z.soilMoisture-f.between(0.1, 1.5))
		}

		z.temperature = clamp(z.temperature+f.between(-2, 2), 10, 45)
		z.humidity = clamp(z.humidity+f.between(-5, 5), 20, 100)
		z.pressure = clamp(z.pressure+f.between(-3, 3), 980, 1050)

		if hour >= 6 && hour <= 18 {
			z.lightLevel = f.between(200, 1000)
		} else {
			z.lightLevel = f.between(0, 50)
		}
	}
}

// finishIrrigation closes valves whose run time has elapsed
func (f *field) finishIrrigation() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	var finished []int
	for id, z := range f.zones {
		if z.irrigating && now.Sub(z.startedAt) >= time.Duration(z.duration)*time.Second {
			z.stop()
			finished = append(finished, id)
		}
	}
	sort.Ints(finished)
	return finished
}

func (z *zoneState) stop() {
	z.irrigating = false
	z.duration = 0
	z.reason = "none"
	z.startedAt = time.Time{}
}

// snapshot returns the sync payload for the current state, ordered by zone id
func (f *field) snapshot() ([]zoneReport, map[int]irrigationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int, 0, len(f.zones))
	for id := range f.zones {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	reports := make([]zoneReport, 0, len(ids))
	status := make(map[int]irrigationStatus, len(ids))
	for _, id := range ids {
		z := f.zones[id]
		reports = append(reports, zoneReport{
			ZoneID:       id,
			SoilMoisture: z.soilMoisture,
			Temperature:  z.temperature,
			Humidity:     z.humidity,
			Pressure:     z.pressure,
			LightLevel:   z.lightLevel,
		})
		status[id] = irrigationStatus{
			IsIrrigating: z.irrigating,
			Duration:     z.duration,
			Reason:       z.reason,
		}
	}
	return reports, status
}

// apply executes a command against the valves. It reports false for commands
// it does not understand or that address an unknown zone.
func (f *field) apply(cmd Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.CommandType {
	case "irrigate":
		z, ok := f.zones[cmd.ZoneID]
		if !ok {
			return false
		}
		duration := cmd.Parameters.Duration
		if duration <= 0 {
			duration = defaultIrrigationSeconds
		}
		reason := "threshold"
		if cmd.Parameters.Force {
			reason = "manual"
		}
		z.irrigating = true
		z.duration = duration
		z.reason = reason
		z.startedAt = f.now()
	case "stop":
		z, ok := f.zones[cmd.ZoneID]
		if !ok {
			return false
		}
		z.stop()
	case "emergency_stop":
		for _, z := range f.zones {
			z.stop()
		}
	case "config_update":
		// thresholds are evaluated server side
		_, ok := f.zones[cmd.ZoneID]
		return ok
	default:
		return false
	}
	return true
}

package models

import (
	"time"
)

// IrrigationReason explains why a zone is irrigating
type IrrigationReason string

const (
	ReasonThreshold IrrigationReason = "threshold"
	ReasonManual    IrrigationReason = "manual"
	ReasonSchedule  IrrigationReason = "schedule"
	ReasonNone      IrrigationReason = "none"
)

// Valid reports whether r is a known reason
func (r IrrigationReason) Valid() bool {
	switch r {
	case ReasonThreshold, ReasonManual, ReasonSchedule, ReasonNone:
		return true
	}
	return false
}

// SensorData is the set of measurements reported for one zone
type SensorData struct {
	SoilMoisture float64 `json:"soilMoisture" gorm:"Column:soil_moisture;not null"`
	Temperature  float64 `json:"temperature" gorm:"Column:temperature;not null"`
	Humidity     float64 `json:"humidity" gorm:"Column:humidity;not null"`
	Pressure     float64 `json:"pressure" gorm:"Column:pressure;not null"`
	LightLevel   float64 `json:"lightLevel" gorm:"Column:light_level"`
}

// IrrigationStatus is the device-reported irrigation state of a zone
type IrrigationStatus struct {
	IsIrrigating bool             `json:"isIrrigating" gorm:"Column:is_irrigating"`
	Duration     int              `json:"duration" gorm:"Column:duration"`
	Reason       IrrigationReason `json:"reason" gorm:"Column:reason"`
}

// IdleStatus is assumed when the device omits a zone's irrigation state
func IdleStatus() IrrigationStatus {
	return IrrigationStatus{Reason: ReasonNone}
}

// Reading is one zone snapshot stored per sync round. Readings are never updated.
type Reading struct {
	ID               uint             `json:"-" gorm:"primarykey"`
	DeviceID         string           `json:"deviceId" gorm:"Column:device_id;not null;index:idx_readings_device_ts,priority:1;index:idx_readings_device_zone_ts,priority:1"`
	ZoneID           int              `json:"zoneId" gorm:"Column:zone_id;not null;index:idx_readings_device_zone_ts,priority:2"`
	SensorData       SensorData       `json:"sensorData" gorm:"embedded"`
	IrrigationStatus IrrigationStatus `json:"irrigationStatus" gorm:"embedded;embeddedPrefix:irrigation_"`
	Timestamp        time.Time        `json:"timestamp" gorm:"Column:timestamp;not null;index:idx_readings_device_ts,priority:2;index:idx_readings_device_zone_ts,priority:3"`
}

// TableName overrides the default table name
func (Reading) TableName() string {
	return "sensor_readings"
}

// ZoneReport is a single entry of the sensorData array sent on sync.
// Required measurements are pointers so that a missing field can be told apart from zero.
type ZoneReport struct {
	ZoneID       *int     `json:"zoneId"`
	SoilMoisture *float64 `json:"soilMoisture"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	Pressure     *float64 `json:"pressure"`
	LightLevel   *float64 `json:"lightLevel"`
}

// ToReading validates the report and converts it into a reading
func (r ZoneReport) ToReading(deviceID string, status IrrigationStatus, at time.Time) (*Reading, error) {
	missing := make([]string, 0, 5)
	if r.ZoneID == nil {
		missing = append(missing, "zoneId")
	}
	if r.SoilMoisture == nil {
		missing = append(missing, "soilMoisture")
	}
	if r.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if r.Humidity == nil {
		missing = append(missing, "humidity")
	}
	if r.Pressure == nil {
		missing = append(missing, "pressure")
	}
	if len(missing) > 0 {
		return nil, NewValidationError("missing required fields: %v", missing)
	}

	if status.Reason == "" {
		status.Reason = ReasonNone
	}

	reading := &Reading{
		DeviceID: deviceID,
		ZoneID:   *r.ZoneID,
		SensorData: SensorData{
			SoilMoisture: *r.SoilMoisture,
			Temperature:  *r.Temperature,
			Humidity:     *r.Humidity,
			Pressure:     *r.Pressure,
		},
		IrrigationStatus: status,
		Timestamp:        at,
	}
	if r.LightLevel != nil {
		reading.SensorData.LightLevel = *r.LightLevel
	}

	return reading, nil
}

// Validate checks the invariants enforced on append
func (r *Reading) Validate() error {
	if r.DeviceID == "" {
		return NewValidationError("deviceId is required")
	}
	if !r.IrrigationStatus.Reason.Valid() {
		return NewValidationError("invalid irrigation reason %q", r.IrrigationStatus.Reason)
	}
	return nil
}

// ZoneSnapshot pairs a zone with its most recent reading for the dashboard
type ZoneSnapshot struct {
	ZoneID     int      `json:"zoneId"`
	ZoneName   string   `json:"zoneName"`
	Threshold  float64  `json:"threshold"`
	IsActive   bool     `json:"isActive"`
	LatestData *Reading `json:"latestData"`
}

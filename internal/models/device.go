package models

import (
	"fmt"
	"time"
)

// Device defaults applied on first authentication
const (
	DefaultSyncInterval       = 10000 // milliseconds
	DefaultMaxIrrigationTime  = 600   // seconds
	DefaultIrrigationDuration = 300   // seconds
	DefaultLocation           = "Unknown"
)

// DeviceConfiguration is pushed to the device on every authenticate and sync
type DeviceConfiguration struct {
	SyncInterval      int  `json:"syncInterval" gorm:"Column:sync_interval;default:10000"`
	MaxIrrigationTime int  `json:"maxIrrigationTime" gorm:"Column:max_irrigation_time;default:600"`
	EmergencyShutoff  bool `json:"emergencyShutoff" gorm:"Column:emergency_shutoff;default:false"`
}

// Device is an ESP32 node controlling one or more irrigation zones
type Device struct {
	Model
	DeviceID      string              `json:"deviceId" gorm:"Column:device_id;uniqueIndex;not null"`
	Name          string              `json:"name" gorm:"Column:name;not null"`
	Location      string              `json:"location" gorm:"Column:location"`
	Zones         []Zone              `json:"zones" gorm:"foreignKey:DeviceRef;constraint:OnDelete:CASCADE"`
	IsOnline      bool                `json:"isOnline" gorm:"Column:is_online"`
	LastSeen      time.Time           `json:"lastSeen" gorm:"Column:last_seen;index"`
	Configuration DeviceConfiguration `json:"configuration" gorm:"embedded"`
}

// Zone is an independently controlled irrigation area of a device
type Zone struct {
	ID                 uint       `json:"-" gorm:"primarykey"`
	DeviceRef          uint       `json:"-" gorm:"Column:device_ref;uniqueIndex:idx_zones_device_zone;not null"`
	ZoneID             int        `json:"zoneId" gorm:"Column:zone_id;uniqueIndex:idx_zones_device_zone;not null"`
	Name               string     `json:"name" gorm:"Column:name;not null"`
	MoistureThreshold  float64    `json:"moistureThreshold" gorm:"Column:moisture_threshold"`
	IsActive           bool       `json:"isActive" gorm:"Column:is_active"`
	IrrigationDuration int        `json:"irrigationDuration" gorm:"Column:irrigation_duration"`
	LastIrrigation     *time.Time `json:"lastIrrigation" gorm:"Column:last_irrigation"`
}

// NewDevice builds an unsaved device with the three default zones
func NewDevice(deviceID, name, location string) *Device {
	if name == "" {
		name = fmt.Sprintf("ESP32-%s", deviceID)
	}
	if location == "" {
		location = DefaultLocation
	}

	return &Device{
		DeviceID: deviceID,
		Name:     name,
		Location: location,
		Zones:    DefaultZones(),
		LastSeen: time.Now(),
		Configuration: DeviceConfiguration{
			SyncInterval:      DefaultSyncInterval,
			MaxIrrigationTime: DefaultMaxIrrigationTime,
		},
	}
}

// DefaultZones returns the zone layout given to newly registered devices
func DefaultZones() []Zone {
	thresholds := []float64{30, 25, 35}
	zones := make([]Zone, 0, len(thresholds))
	for i, threshold := range thresholds {
		zones = append(zones, Zone{
			ZoneID:             i + 1,
			Name:               fmt.Sprintf("Zone %d", i+1),
			MoistureThreshold:  threshold,
			IsActive:           true,
			IrrigationDuration: DefaultIrrigationDuration,
		})
	}
	return zones
}

// Zone returns the zone with the given id, or nil
func (d *Device) Zone(zoneID int) *Zone {
	for i := range d.Zones {
		if d.Zones[i].ZoneID == zoneID {
			return &d.Zones[i]
		}
	}
	return nil
}

// NeedsIrrigation reports whether a moisture reading triggers the auto-irrigation rule.
// The comparison is strict: a reading equal to the threshold does not irrigate.
func (z *Zone) NeedsIrrigation(soilMoisture float64) bool {
	return z.IsActive && soilMoisture < z.MoistureThreshold
}

// ZonePatch holds optional zone edits
type ZonePatch struct {
	Name               *string  `json:"name" binding:"omitempty,min=1,max=64"`
	MoistureThreshold  *float64 `json:"moistureThreshold" binding:"omitempty,gte=0,lte=100"`
	IsActive           *bool    `json:"isActive"`
	IrrigationDuration *int     `json:"irrigationDuration" binding:"omitempty,gte=1"`
}

// Apply copies the set fields onto the zone
func (p ZonePatch) Apply(z *Zone) {
	if p.Name != nil {
		z.Name = *p.Name
	}
	if p.MoistureThreshold != nil {
		z.MoistureThreshold = *p.MoistureThreshold
	}
	if p.IsActive != nil {
		z.IsActive = *p.IsActive
	}
	if p.IrrigationDuration != nil {
		z.IrrigationDuration = *p.IrrigationDuration
	}
}

// ConfigurationPatch holds optional device configuration edits
type ConfigurationPatch struct {
	SyncInterval      *int  `json:"syncInterval" binding:"omitempty,gte=1000"`
	MaxIrrigationTime *int  `json:"maxIrrigationTime" binding:"omitempty,gte=1"`
	EmergencyShutoff  *bool `json:"emergencyShutoff"`
}

// Apply copies the set fields onto the configuration
func (p ConfigurationPatch) Apply(c *DeviceConfiguration) {
	if p.SyncInterval != nil {
		c.SyncInterval = *p.SyncInterval
	}
	if p.MaxIrrigationTime != nil {
		c.MaxIrrigationTime = *p.MaxIrrigationTime
	}
	if p.EmergencyShutoff != nil {
		c.EmergencyShutoff = *p.EmergencyShutoff
	}
}

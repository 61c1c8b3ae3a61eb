package messaging

import (
	"time"

	"example.com/backstage/services/irrigation/internal/models"
)

// EventType names a command lifecycle transition
type EventType string

const (
	EventCommandQueued    EventType = "command.queued"
	EventCommandDelivered EventType = "command.delivered"
	EventDeviceOffline    EventType = "device.offline"
)

// Event is the message body published for downstream consumers
type Event struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"type"`
	DeviceID    string             `json:"deviceId"`
	ZoneID      int                `json:"zoneId,omitempty"`
	CommandID   uint               `json:"commandId,omitempty"`
	CommandType models.CommandType `json:"commandType,omitempty"`
	CreatedBy   models.Origin      `json:"createdBy,omitempty"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// CommandEvent builds the event for a command transition
func CommandEvent(eventType EventType, cmd *models.Command, at time.Time) Event {
	return Event{
		Type:        eventType,
		DeviceID:    cmd.DeviceID,
		ZoneID:      cmd.ZoneID,
		CommandID:   cmd.ID,
		CommandType: cmd.CommandType,
		CreatedBy:   cmd.CreatedBy,
		OccurredAt:  at,
	}
}

// DeviceOfflineEvent builds the event emitted by the presence sweep
func DeviceOfflineEvent(deviceID string, at time.Time) Event {
	return Event{
		Type:       EventDeviceOffline,
		DeviceID:   deviceID,
		OccurredAt: at,
	}
}

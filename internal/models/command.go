package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// CommandType is the action a device is asked to perform
type CommandType string

const (
	CommandIrrigate      CommandType = "irrigate"
	CommandStop          CommandType = "stop"
	CommandConfigUpdate  CommandType = "config_update"
	CommandEmergencyStop CommandType = "emergency_stop"
)

// Valid reports whether t is a known command type
func (t CommandType) Valid() bool {
	switch t {
	case CommandIrrigate, CommandStop, CommandConfigUpdate, CommandEmergencyStop:
		return true
	}
	return false
}

// CommandStatus is the lifecycle state of a command
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandDelivered CommandStatus = "delivered"
	CommandExecuted  CommandStatus = "executed"
	CommandFailed    CommandStatus = "failed"
)

// Valid reports whether s is a known status
func (s CommandStatus) Valid() bool {
	switch s {
	case CommandPending, CommandDelivered, CommandExecuted, CommandFailed:
		return true
	}
	return false
}

// CommandParameters is the per-type parameter variant of a command
type CommandParameters interface {
	Type() CommandType
}

// IrrigateParameters opens a zone valve for Duration seconds
type IrrigateParameters struct {
	Duration int  `json:"duration"`
	Force    bool `json:"force"`
}

func (IrrigateParameters) Type() CommandType { return CommandIrrigate }

// StopParameters closes a zone valve
type StopParameters struct{}

func (StopParameters) Type() CommandType { return CommandStop }

// ConfigUpdateParameters pushes a new moisture threshold to the device
type ConfigUpdateParameters struct {
	NewThreshold *float64 `json:"newThreshold"`
}

func (ConfigUpdateParameters) Type() CommandType { return CommandConfigUpdate }

// EmergencyStopParameters closes every valve on the device
type EmergencyStopParameters struct{}

func (EmergencyStopParameters) Type() CommandType { return CommandEmergencyStop }

// ParseCommandParameters decodes the raw parameter object for the given command type.
// Fields that do not belong to the type are ignored.
func ParseCommandParameters(commandType CommandType, raw json.RawMessage) (CommandParameters, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	var params CommandParameters
	switch commandType {
	case CommandIrrigate:
		p := IrrigateParameters{}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, NewValidationError("invalid irrigate parameters: %v", err)
		}
		if p.Duration < 0 {
			return nil, NewValidationError("duration must not be negative")
		}
		params = p
	case CommandStop:
		params = StopParameters{}
	case CommandConfigUpdate:
		p := ConfigUpdateParameters{}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, NewValidationError("invalid config_update parameters: %v", err)
		}
		params = p
	case CommandEmergencyStop:
		params = EmergencyStopParameters{}
	default:
		return nil, NewValidationError("unknown command type %q", commandType)
	}

	return params, nil
}

// Command is a queued instruction for one zone of a device
type Command struct {
	ID          uint          `json:"commandId" gorm:"primarykey"`
	DeviceID    string        `json:"deviceId" gorm:"Column:device_id;not null;index:idx_commands_device_status,priority:1"`
	ZoneID      int           `json:"zoneId" gorm:"Column:zone_id;not null"`
	CommandType CommandType   `json:"commandType" gorm:"Column:command_type;not null"`
	Status      CommandStatus `json:"status" gorm:"Column:status;not null;index:idx_commands_device_status,priority:2"`
	CreatedBy   Origin        `json:"createdBy" gorm:"Column:created_by;not null"`
	CreatedAt   time.Time     `json:"createdAt" gorm:"Column:created_at;index:idx_commands_device_status,priority:3"`
	DeliveredAt *time.Time    `json:"deliveredAt" gorm:"Column:delivered_at"`
	ExecutedAt  *time.Time    `json:"executedAt" gorm:"Column:executed_at"`

	// Flattened storage of the parameter variant
	Duration     int      `json:"-" gorm:"Column:duration"`
	Force        bool     `json:"-" gorm:"Column:force"`
	NewThreshold *float64 `json:"-" gorm:"Column:new_threshold"`
}

// NewCommand builds a pending command carrying params
func NewCommand(deviceID string, zoneID int, params CommandParameters, origin Origin) *Command {
	cmd := &Command{
		DeviceID:  deviceID,
		ZoneID:    zoneID,
		Status:    CommandPending,
		CreatedBy: origin,
	}
	if params != nil {
		cmd.SetParameters(params)
	}
	return cmd
}

// SetParameters stores the variant and the matching command type
func (c *Command) SetParameters(params CommandParameters) {
	c.CommandType = params.Type()
	c.Duration = 0
	c.Force = false
	c.NewThreshold = nil

	switch p := params.(type) {
	case IrrigateParameters:
		c.Duration = p.Duration
		c.Force = p.Force
	case ConfigUpdateParameters:
		c.NewThreshold = p.NewThreshold
	}
}

// Parameters rebuilds the variant for the command type
func (c *Command) Parameters() CommandParameters {
	switch c.CommandType {
	case CommandIrrigate:
		return IrrigateParameters{Duration: c.Duration, Force: c.Force}
	case CommandConfigUpdate:
		return ConfigUpdateParameters{NewThreshold: c.NewThreshold}
	case CommandEmergencyStop:
		return EmergencyStopParameters{}
	default:
		return StopParameters{}
	}
}

// MarshalJSON adds the parameters object to the stored fields
func (c Command) MarshalJSON() ([]byte, error) {
	type plain Command
	return json.Marshal(struct {
		plain
		Parameters CommandParameters `json:"parameters"`
	}{
		plain:      plain(c),
		Parameters: c.Parameters(),
	})
}

// BeforeCreate rejects commands the queue cannot represent
func (c *Command) BeforeCreate(tx *gorm.DB) error {
	if !c.CommandType.Valid() {
		return NewValidationError("unknown command type %q", c.CommandType)
	}
	if c.Status == "" {
		c.Status = CommandPending
	}
	if !c.Status.Valid() {
		return NewValidationError("unknown command status %q", c.Status)
	}
	if c.CreatedBy == "" {
		c.CreatedBy = OriginSystem
	}
	return nil
}

// DeliveredCommand is the shape sent to a device in the sync response
type DeliveredCommand struct {
	CommandID   uint              `json:"commandId"`
	ZoneID      int               `json:"zoneId"`
	CommandType CommandType       `json:"commandType"`
	Parameters  CommandParameters `json:"parameters"`
}

// ForDevice converts the command to its sync response shape
func (c *Command) ForDevice() DeliveredCommand {
	return DeliveredCommand{
		CommandID:   c.ID,
		ZoneID:      c.ZoneID,
		CommandType: c.CommandType,
		Parameters:  c.Parameters(),
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"example.com/backstage/services/irrigation/internal/models"
	"example.com/backstage/services/irrigation/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DeviceHandler handles device-related requests
type DeviceHandler struct {
	service service.Service
	log     *logrus.Logger
	errors  errorResponder
}

// NewDeviceHandler creates a new DeviceHandler instance
func NewDeviceHandler(svc service.Service, log *logrus.Logger, production bool) *DeviceHandler {
	return &DeviceHandler{
		service: svc,
		log:     log,
		errors:  errorResponder{log: log, production: production},
	}
}

type authenticateRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Authenticate registers a device on first contact and issues its token
func (h *DeviceHandler) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Warn("Invalid authenticate request")
		badRequest(c, "Invalid request body")
		return
	}

	result, err := h.service.Authenticate(c.Request.Context(), req.DeviceID, req.Name, req.Location)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	device := result.Device
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     result.Token,
		"expiresAt": result.ExpiresAt,
		"configuration": gin.H{
			"zones":             device.Zones,
			"syncInterval":      device.Configuration.SyncInterval,
			"maxIrrigationTime": device.Configuration.MaxIrrigationTime,
			"emergencyShutoff":  device.Configuration.EmergencyShutoff,
		},
	})
}

// ListDevices returns every device, most recently seen first
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices, err := h.service.ListDevices(c.Request.Context())
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, devices)
}

// LatestReadings returns each zone with its newest reading
func (h *DeviceHandler) LatestReadings(c *gin.Context) {
	snapshots, err := h.service.LatestReadings(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshots)
}

// ReadingHistory returns readings newest first, optionally for one zone
func (h *DeviceHandler) ReadingHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	var zoneID *int
	if raw := c.Query("zoneId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "zoneId must be an integer")
			return
		}
		zoneID = &id
	}

	readings, err := h.service.ReadingHistory(c.Request.Context(), c.Param("id"), zoneID, limit)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, readings)
}

type commandRequest struct {
	ZoneID      *int               `json:"zoneId"`
	CommandType models.CommandType `json:"commandType"`
	Parameters  json.RawMessage    `json:"parameters"`
}

// QueueCommand queues a manual command for a device zone
func (h *DeviceHandler) QueueCommand(c *gin.Context) {
	deviceID := c.Param("id")
	if _, err := h.service.GetDevice(c.Request.Context(), deviceID); err != nil {
		h.errors.respond(c, err)
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.WithError(err).Warn("Invalid command request")
		badRequest(c, "Invalid request body")
		return
	}
	if req.ZoneID == nil || req.CommandType == "" {
		badRequest(c, "Zone ID and command type are required")
		return
	}

	params, err := models.ParseCommandParameters(req.CommandType, req.Parameters)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	cmd, err := h.service.QueueManualCommand(c.Request.Context(), deviceID, *req.ZoneID, params)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"commandId": cmd.ID,
	})
}

// ListCommands returns a device's commands newest first
func (h *DeviceHandler) ListCommands(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	status := models.CommandStatus(c.Query("status"))
	commands, err := h.service.ListCommands(c.Request.Context(), c.Param("id"), status, limit)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, commands)
}

// UpdateZone edits a zone's threshold, duration, name or active flag
func (h *DeviceHandler) UpdateZone(c *gin.Context) {
	zoneID, err := strconv.Atoi(c.Param("zoneId"))
	if err != nil {
		badRequest(c, "zoneId must be an integer")
		return
	}

	var patch models.ZonePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}

	zone, err := h.service.UpdateZone(c.Request.Context(), c.Param("id"), zoneID, patch)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, zone)
}

// UpdateConfiguration edits the configuration pushed to the device on sync
func (h *DeviceHandler) UpdateConfiguration(c *gin.Context) {
	var patch models.ConfigurationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}

	cfg, err := h.service.UpdateConfiguration(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// queryInt parses an optional integer query parameter. It writes a 400 and returns false on bad input.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	return value, true
}

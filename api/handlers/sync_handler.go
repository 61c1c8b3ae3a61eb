package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"example.com/backstage/services/irrigation/api/middleware"
	"example.com/backstage/services/irrigation/internal/models"
	"example.com/backstage/services/irrigation/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SyncHandler serves the device synchronization round
type SyncHandler struct {
	service service.Service
	log     *logrus.Logger
	errors  errorResponder
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(svc service.Service, log *logrus.Logger, production bool) *SyncHandler {
	return &SyncHandler{
		service: svc,
		log:     log,
		errors:  errorResponder{log: log, production: production},
	}
}

type syncRequest struct {
	SensorData       json.RawMessage                 `json:"sensorData"`
	IrrigationStatus map[int]models.IrrigationStatus `json:"irrigationStatus"`
}

// Sync stores the reported readings and returns the device's pending commands
func (h *SyncHandler) Sync(c *gin.Context) {
	device, err := middleware.GetDeviceFromContext(c)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	var req syncRequest
	// an empty body is an empty batch
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.WithError(err).WithField("device_id", device.DeviceID).Warn("Invalid sync request")
		badRequest(c, "Invalid request body")
		return
	}

	reports, ok := h.decodeReports(c, device.DeviceID, req.SensorData)
	if !ok {
		badRequest(c, "sensorData must be an array")
		return
	}

	result, err := h.service.Sync(c.Request.Context(), device, service.SyncRequest{
		SensorData:       reports,
		IrrigationStatus: req.IrrigationStatus,
	})
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"commands":      result.Commands,
		"configuration": result.Configuration,
	})
}

// decodeReports splits sensorData into zone reports. Absent or null means an empty
// batch and anything other than an array is rejected. An element that cannot be
// decoded is logged and dropped so the rest of the batch still goes through.
func (h *SyncHandler) decodeReports(c *gin.Context, deviceID string, raw json.RawMessage) ([]models.ZoneReport, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, true
	}
	if trimmed[0] != '[' {
		return nil, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}

	reports := make([]models.ZoneReport, 0, len(items))
	for i, item := range items {
		var report models.ZoneReport
		if err := json.Unmarshal(item, &report); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"device_id":  deviceID,
				"index":      i,
				"request_id": c.GetString(string(middleware.RequestIDContextKey)),
			}).Warn("Skipping undecodable zone report")
			continue
		}
		reports = append(reports, report)
	}

	return reports, true
}

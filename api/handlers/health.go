package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether the database answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and database state
type HealthHandler struct {
	db          Pinger
	environment string
	log         *logrus.Logger
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(db Pinger, environment string, log *logrus.Logger) *HealthHandler {
	return &HealthHandler{db: db, environment: environment, log: log}
}

// HealthCheck handles health check requests. A database that does not answer yields 503.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code, database := "OK", http.StatusOK, "connected"
	if err := h.db.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("Health check database ping failed")
		status, code, database = "ERROR", http.StatusServiceUnavailable, "disconnected"
	}

	c.JSON(code, gin.H{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.environment,
		"database":    database,
	})
}

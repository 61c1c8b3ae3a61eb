package handlers

import (
	"errors"
	"net/http"

	"example.com/backstage/services/irrigation/internal/auth"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// errorResponder maps domain errors to HTTP responses
type errorResponder struct {
	log        *logrus.Logger
	production bool
}

// respond writes {"error": msg} with the status for err's kind.
// Store failures only expose their detail outside production.
func (r errorResponder) respond(c *gin.Context, err error) {
	var authErr *auth.AuthError
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage(err)})
	case errors.As(err, &authErr), errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	default:
		r.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		_ = c.Error(err)

		message := "Internal server error"
		if !r.production {
			message = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func notFoundMessage(err error) string {
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		switch notFound.Resource {
		case "device":
			return "Device not found"
		case "zone":
			return "Zone not found"
		}
	}
	return err.Error()
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

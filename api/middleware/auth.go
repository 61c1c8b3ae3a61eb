package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"example.com/backstage/services/irrigation/internal/auth"
	"example.com/backstage/services/irrigation/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// contextKey is a type for context keys
type contextKey string

// Context keys
const (
	DeviceContextKey    contextKey = "device"
	RequestIDContextKey contextKey = "request_id"
)

// TokenVerifier resolves a bearer token to a deviceId
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// DeviceLookup loads the device a token was issued to
type DeviceLookup interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// DeviceTokenAuth validates the bearer token and stores the device in the context.
// Clients only ever see "No token provided" or "Invalid token"; the cause is logged.
func DeviceTokenAuth(verifier TokenVerifier, devices DeviceLookup, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No token provided",
			})
			return
		}

		deviceID, err := verifier.Verify(token)
		if err != nil {
			fields := logrus.Fields{"request_id": c.GetString(string(RequestIDContextKey))}
			var authErr *auth.AuthError
			if errors.As(err, &authErr) {
				fields["kind"] = string(authErr.Kind)
			}
			log.WithError(err).WithFields(fields).Warn("Rejected device token")
			abortInvalidToken(c)
			return
		}

		device, err := devices.GetDevice(c.Request.Context(), deviceID)
		if err != nil {
			entry := log.WithError(err).WithField("device_id", deviceID)
			if errors.Is(err, models.ErrNotFound) {
				entry.Warn("Token issued to unknown device")
			} else {
				entry.Error("Failed to load device for token")
			}
			abortInvalidToken(c)
			return
		}

		c.Set(string(DeviceContextKey), device)
		c.Next()
	}
}

// bearerToken returns the credential part of an "Authorization: Bearer <token>" header
func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func abortInvalidToken(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "Invalid token",
	})
}

// GetDeviceFromContext retrieves a device from the context
func GetDeviceFromContext(c *gin.Context) (*models.Device, error) {
	deviceVal, exists := c.Get(string(DeviceContextKey))
	if !exists {
		return nil, errors.New("device not found in context")
	}

	device, ok := deviceVal.(*models.Device)
	if !ok {
		return nil, errors.New("device in context has incorrect type")
	}

	return device, nil
}

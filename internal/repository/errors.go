package repository

import (
	"errors"

	"example.com/backstage/services/irrigation/internal/models"
)

// storeError wraps a database failure. Domain errors raised by model hooks pass through.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
		return err
	}
	return &models.StoreError{Op: op, Err: err}
}

package models

import (
	"errors"
	"fmt"
)

// Domain error kinds. Wrapped errors are matched with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError describes a rejected request or record
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes every ValidationError match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError formats a ValidationError
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing resource
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is makes every NotFoundError match ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DeviceNotFound builds the error returned for an unknown deviceId
func DeviceNotFound(deviceID string) *NotFoundError {
	return &NotFoundError{Resource: "device", ID: deviceID}
}

// ErrStore marks failures of the persistent store
var ErrStore = errors.New("store error")

// StoreError wraps a database failure with the operation that hit it
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match ErrStore
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

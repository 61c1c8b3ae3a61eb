package models

import (
	"time"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint      `json:"-" gorm:"primarykey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Origin records who created a command
type Origin string

const (
	// OriginSystem marks commands created by the auto-irrigation rule
	OriginSystem Origin = "system"
	// OriginUser marks commands created by an operator
	OriginUser Origin = "user"
)

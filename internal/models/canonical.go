package models

import (
	"time"

	"github.com/google/uuid"
)

// Canonical is a deduplicated vocabulary entry (normalized entity or aspect).
type Canonical struct {
	ID           uuid.UUID `json:"id"`
	Kind         Kind      `json:"kind"`
	CanonicalKey string    `json:"canonical_key"`
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	Examples     []string  `json:"examples"`
	UsageCount   int64     `json:"usage_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewCanonical holds the fields needed to create a catalog entry.
type NewCanonical struct {
	CanonicalKey string
	DisplayName  string
	Description  string
	Examples     []string
}

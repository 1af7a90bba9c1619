package models

import (
	"time"

	"github.com/google/uuid"
)

// Topic is a cluster of thematically similar concepts for one location.
type Topic struct {
	ID          uuid.UUID `json:"id"`
	LocationID  uuid.UUID `json:"location_id"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	IsStable    bool      `json:"is_stable"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TopicSummary is a topic ranked by member count inside a time window.
type TopicSummary struct {
	Topic
	ConceptCount int64 `json:"concept_count"`
}

// TopicMember is the minimal concept view handed to grouping and composing.
type TopicMember struct {
	ConceptID  uuid.UUID `json:"concept_id"`
	EntityName string    `json:"entity"`
	AspectName string    `json:"aspect"`
	Judgment   string    `json:"judgment"`
	Intensity  float64   `json:"intensity"`
}

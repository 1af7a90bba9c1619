package models

import "github.com/google/uuid"

// PairingRow is one concept with its active entity and aspect links.
type PairingRow struct {
	ConceptID uuid.UUID
	EntityIDs []uuid.UUID
	AspectIDs []uuid.UUID
	Judgment  string
	Intensity float64
}

// PairSample is an example judgment captured for a pair.
type PairSample struct {
	Judgment  string  `json:"judgment"`
	Intensity float64 `json:"intensity"`
}

// Pair is an entity x aspect co-occurrence with its count.
type Pair struct {
	EntityID   uuid.UUID    `json:"entity_id"`
	EntityName string       `json:"entity_name,omitempty"`
	AspectID   uuid.UUID    `json:"aspect_id"`
	AspectName string       `json:"aspect_name,omitempty"`
	Count      int          `json:"count"`
	Samples    []PairSample `json:"samples"`
}

// Package gateway defines the external decision collaborators consumed by the
// normalizer and topic stages, plus LLM-backed implementations of each.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"conceptnorm/internal/models"
)

// ErrMalformedResponse is returned when a collaborator answers with output
// that does not satisfy its contract.
var ErrMalformedResponse = errors.New("malformed collaborator response")

// MentionContext carries the rest of the concept alongside the mention.
type MentionContext struct {
	Companion string  `json:"companion"`
	Judgment  string  `json:"judgment,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
}

// ClassifyRequest asks whether a mention matches an existing catalog entry.
type ClassifyRequest struct {
	Kind       models.Kind
	Mention    string
	Context    MentionContext
	Candidates []models.Canonical
}

// Classifier decides between reusing a candidate and creating a new entry.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Decision, error)
}

// TopicGroup is one cluster proposed by a Grouper.
type TopicGroup struct {
	Label      string
	ConceptIDs []uuid.UUID
}

// Grouper clusters concepts into labelled groups.
type Grouper interface {
	Group(ctx context.Context, concepts []models.TopicMember, minTopicSize int) ([]TopicGroup, error)
}

// Composer writes a neutral narrative for a topic.
type Composer interface {
	Compose(ctx context.Context, topicName string, concepts []models.TopicMember) (string, error)
}

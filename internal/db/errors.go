package db

import "errors"

// Domain-level database error sentinels.
var (
	// Catalog errors
	ErrCanonicalNotFound = errors.New("canonical entry not found")
	ErrUnknownKind       = errors.New("unknown canonical kind")

	// Concept errors
	ErrConceptNotFound = errors.New("concept not found")

	// Topic errors
	ErrTopicNotFound = errors.New("topic not found")
	ErrTopicTooSmall = errors.New("too few unassigned concepts for topic")
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Junction row status values.
const (
	LinkStatusActive = "active"
)

// Concept is one extracted opinion unit from a single review.
type Concept struct {
	ID                 uuid.UUID       `json:"id"`
	ReviewID           uuid.UUID       `json:"review_id"`
	LocationID         uuid.UUID       `json:"location_id"`
	Structured         json.RawMessage `json:"structured"`
	NormalizedEntityID *uuid.UUID      `json:"normalized_entity_id"`
	NormalizedAspectID *uuid.UUID      `json:"normalized_aspect_id"`
	TopicID            *uuid.UUID      `json:"topic_id"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ConceptPayload is the structured part written by upstream extraction.
type ConceptPayload struct {
	Entity    string    `json:"entity"`
	Aspect    string    `json:"aspect"`
	Judgment  string    `json:"judgment"`
	Intensity Intensity `json:"intensity"`
}

// Payload decodes the structured column. Fields of the wrong type decode as
// their zero value; only a column that is not a JSON object is an error.
func (c *Concept) Payload() (ConceptPayload, error) {
	var p ConceptPayload
	if len(c.Structured) == 0 {
		return p, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(c.Structured, &fields); err != nil {
		return p, err
	}
	p.Entity = stringField(fields["entity"])
	p.Aspect = stringField(fields["aspect"])
	p.Judgment = stringField(fields["judgment"])
	if raw, ok := fields["intensity"]; ok {
		_ = p.Intensity.UnmarshalJSON(raw)
	}
	return p, nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// Linkable reports whether the concept carries a mention for kind that a
// normalizer can act on.
func (c *Concept) Linkable(kind Kind) bool {
	p, err := c.Payload()
	return err == nil && p.Mention(kind) != ""
}

// NormalizedID returns the link for the given kind, nil when pending.
func (c *Concept) NormalizedID(kind Kind) *uuid.UUID {
	if kind == KindAspect {
		return c.NormalizedAspectID
	}
	return c.NormalizedEntityID
}

// MentionSpace is the whitespace trimmed from mentions. The pending query
// trims the same set.
const MentionSpace = " \t\n\r\f\v"

// Mention returns the raw text for the given kind.
func (p ConceptPayload) Mention(kind Kind) string {
	if kind == KindAspect {
		return strings.Trim(p.Aspect, MentionSpace)
	}
	return strings.Trim(p.Entity, MentionSpace)
}

// Intensity is a judgment strength. Upstream writes either a number or a
// numeric string; anything else, including NaN and infinities, decodes as
// zero.
type Intensity float64

// UnmarshalJSON accepts numbers, numeric strings and null.
func (i *Intensity) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*i = 0
		return nil
	}
	*i = Intensity(f)
	return nil
}

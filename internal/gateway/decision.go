package gateway

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Decision is the classifier's verdict: either Reuse or Create.
type Decision interface {
	decision()
}

// Reuse links the mention to an existing catalog entry.
type Reuse struct {
	TargetID uuid.UUID
}

// Create asks for a new catalog entry.
type Create struct {
	CanonicalKey string
	DisplayName  string
	Description  string
	Examples     []string
}

func (Reuse) decision()  {}
func (Create) decision() {}

// decisionWire is the JSON shape the classifier model is asked to produce.
type decisionWire struct {
	Action       string   `json:"action"`
	TargetID     string   `json:"target_id"`
	CanonicalKey string   `json:"canonical_key"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Examples     []string `json:"examples"`
}

func (w decisionWire) toDecision() (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(w.Action)) {
	case "reuse":
		id, err := uuid.Parse(strings.TrimSpace(w.TargetID))
		if err != nil {
			return nil, fmt.Errorf("%w: reuse target %q", ErrMalformedResponse, w.TargetID)
		}
		return Reuse{TargetID: id}, nil
	case "create":
		return Create{
			CanonicalKey: strings.TrimSpace(w.CanonicalKey),
			DisplayName:  strings.TrimSpace(w.DisplayName),
			Description:  strings.TrimSpace(w.Description),
			Examples:     w.Examples,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, w.Action)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"conceptnorm/internal/metrics"
)

const classifySystemPrompt = `You curate a small canonical vocabulary of %[1]ss mentioned in customer reviews.
Given a raw %[1]s mention, the rest of the opinion it came from, and the existing canonical %[1]ss,
decide whether the mention means the same thing as one candidate.
Prefer reusing a candidate over creating a near-duplicate. Only create when no candidate fits.
Answer with a JSON object and nothing else, in one of these shapes:
{"action":"reuse","target_id":"<candidate id>"}
{"action":"create","canonical_key":"<lowercase ascii snake_case key>","display_name":"<short human name>","description":"<one sentence>","examples":["<raw mention>"]}`

type candidateWire struct {
	ID          string `json:"id"`
	Key         string `json:"canonical_key"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	UsageCount  int64  `json:"usage_count"`
}

type classifyPromptWire struct {
	Mention    string          `json:"mention"`
	Context    MentionContext  `json:"context"`
	Candidates []candidateWire `json:"candidates"`
}

// LLMClassifier implements Classifier on top of a chat-completions Client.
type LLMClassifier struct {
	client *Client
}

// NewLLMClassifier creates a classifier backed by client.
func NewLLMClassifier(client *Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

// Classify asks the model for a reuse-or-create decision.
func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) (d Decision, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCollaborator("classifier", start, err) }()

	prompt := classifyPromptWire{
		Mention:    req.Mention,
		Context:    req.Context,
		Candidates: make([]candidateWire, 0, len(req.Candidates)),
	}
	for _, cand := range req.Candidates {
		prompt.Candidates = append(prompt.Candidates, candidateWire{
			ID:          cand.ID.String(),
			Key:         cand.CanonicalKey,
			DisplayName: cand.DisplayName,
			Description: cand.Description,
			UsageCount:  cand.UsageCount,
		})
	}
	user, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}

	var wire decisionWire
	if err := c.client.CompleteJSON(ctx, fmt.Sprintf(classifySystemPrompt, req.Kind), string(user), &wire); err != nil {
		return nil, err
	}
	return wire.toDecision()
}

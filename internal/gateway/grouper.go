package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"conceptnorm/internal/metrics"
	"conceptnorm/internal/models"
)

const groupSystemPrompt = `You group customer-review opinions into recurring topics.
Each opinion has an index "i", an entity, an aspect and a judgment.
Form topics of at least %d opinions that share a clear theme; leave the rest ungrouped.
Give every topic a short neutral label (2-5 words).
Answer with a JSON object and nothing else:
{"topics":[{"label":"<label>","members":[<i>, ...]}]}`

type groupItemWire struct {
	I        int    `json:"i"`
	Entity   string `json:"entity"`
	Aspect   string `json:"aspect"`
	Judgment string `json:"judgment"`
}

type groupReplyWire struct {
	Topics []struct {
		Label   string `json:"label"`
		Members []int  `json:"members"`
	} `json:"topics"`
}

// LLMGrouper implements Grouper on top of a chat-completions Client.
type LLMGrouper struct {
	client *Client
}

// NewLLMGrouper creates a grouper backed by client.
func NewLLMGrouper(client *Client) *LLMGrouper {
	return &LLMGrouper{client: client}
}

// Group sends concepts by index and maps the returned indices back to ids.
// Out-of-range indices are dropped.
func (g *LLMGrouper) Group(ctx context.Context, concepts []models.TopicMember, minTopicSize int) (groups []TopicGroup, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCollaborator("grouper", start, err) }()

	items := make([]groupItemWire, len(concepts))
	for i, c := range concepts {
		items[i] = groupItemWire{I: i, Entity: c.EntityName, Aspect: c.AspectName, Judgment: c.Judgment}
	}
	user, err := json.Marshal(map[string]any{"opinions": items})
	if err != nil {
		return nil, err
	}

	var reply groupReplyWire
	if err := g.client.CompleteJSON(ctx, fmt.Sprintf(groupSystemPrompt, minTopicSize), string(user), &reply); err != nil {
		return nil, err
	}

	for _, t := range reply.Topics {
		group := TopicGroup{Label: strings.TrimSpace(t.Label)}
		for _, i := range t.Members {
			if i < 0 || i >= len(concepts) {
				continue
			}
			group.ConceptIDs = append(group.ConceptIDs, concepts[i].ConceptID)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

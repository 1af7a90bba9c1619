package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conceptnorm/internal/metrics"
	"conceptnorm/internal/models"
)

const composeSystemPrompt = `You summarise what customers say about one topic.
Write two or three neutral sentences in the language of the opinions.
Do not invent facts, quote customers, or give recommendations. Reply with plain text only.`

// LLMComposer implements Composer on top of a chat-completions Client.
type LLMComposer struct {
	client *Client
}

// NewLLMComposer creates a composer backed by client.
func NewLLMComposer(client *Client) *LLMComposer {
	return &LLMComposer{client: client}
}

// Compose writes a narrative from member snippets.
func (c *LLMComposer) Compose(ctx context.Context, topicName string, concepts []models.TopicMember) (desc string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCollaborator("composer", start, err) }()

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nOpinions:\n", topicName)
	for _, m := range concepts {
		fmt.Fprintf(&b, "- %s / %s: %s\n", m.EntityName, m.AspectName, m.Judgment)
	}

	text, err := c.client.CompleteText(ctx, composeSystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	return strings.Trim(text, "\"“” \n"), nil
}

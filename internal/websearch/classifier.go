package websearch

import (
	"context"
	"strings"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/persona"
)

// DefaultClassifierModel is the fast text model used for intent
// classification when the config names none.
const DefaultClassifierModel = "meta/llama-4-maverick-17b-128e-instruct"

// Queries at or below this length never trigger a classifier call.
const minClassifyLen = 5

// Classifier asks a fast model whether a query needs live web data.
type Classifier struct {
	client llm.Client
	model  string
}

// NewClassifier builds a classifier on the given client. An empty model
// falls back to DefaultClassifierModel.
func NewClassifier(client llm.Client, model string) *Classifier {
	if model == "" {
		model = DefaultClassifierModel
	}
	return &Classifier{client: client, model: model}
}

// Model returns the model the classifier queries.
func (c *Classifier) Model() string { return c.model }

// NeedsWeb reports whether answering the query requires live web
// information. Very short queries never do, and any classifier failure
// counts as "not required" so chat keeps working without web mode.
func (c *Classifier) NeedsWeb(ctx context.Context, query string) bool {
	if len(query) <= minClassifyLen {
		return false
	}

	temp := 0.0
	resp, err := c.client.Chat(ctx, llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: persona.WebDecisionPrompt()},
			{Role: llm.RoleUser, Content: query},
		},
		MaxTokens:   10,
		Temperature: &temp,
	})
	if err != nil {
		return false
	}

	// WEB_NOT_REQUIRED does not contain the contiguous token
	// WEB_REQUIRED, so a substring check is enough and tolerates stray
	// whitespace or punctuation around the verdict.
	return strings.Contains(resp.Content, "WEB_REQUIRED")
}

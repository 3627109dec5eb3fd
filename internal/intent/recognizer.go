// Package intent turns a chat message into an intent tag plus entities using
// an LLM with tool calling.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskmesh/internal/decompose"
	"github.com/rahul/taskmesh/internal/store"
)

const classifyTool = "classify_intent"

var ErrNoClassification = errors.New("model returned no classification")

// Intent is a classified user request.
type Intent struct {
	Type       string         `json:"intent"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence,omitempty"`
	// Reply holds free text when the model answered instead of classifying.
	Reply string `json:"-"`
}

type HistoryStore interface {
	AddMessage(ctx context.Context, chatID string, role string, content string) error
	GetHistory(ctx context.Context, chatID string, limit int) ([]llms.MessageContent, error)
}

type Recognizer struct {
	Model        llms.Model
	Prompts      *PromptManager
	History      HistoryStore
	HistoryLimit int
}

func NewRecognizer(model llms.Model, prompts *PromptManager, history HistoryStore) *Recognizer {
	return &Recognizer{
		Model:        model,
		Prompts:      prompts,
		History:      history,
		HistoryLimit: 5,
	}
}

// Tags lists the canonical intent tags offered to the model.
func Tags() []string {
	var tags []string
	for _, f := range decompose.Families() {
		tags = append(tags, string(f.Intent))
	}
	return tags
}

func classifierTools() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        classifyTool,
				Description: "Classify the user's request into one intent and extract its entities.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"intent": map[string]any{
							"type": "string",
							"enum": Tags(),
						},
						"entities": map[string]any{
							"type":        "object",
							"description": "Named values from the message, e.g. title, start, end, date, recipient, text, subject, url, query, channel, remind.",
						},
						"confidence": map[string]any{
							"type": "number",
						},
					},
					"required": []string{"intent", "entities"},
				},
			},
		},
	}
}

// Recognize classifies input from chatID. Recent chat history is sent along
// for context, and the message is appended to the history.
func (r *Recognizer) Recognize(ctx context.Context, chatID string, input string) (Intent, error) {
	systemPrompt, err := r.Prompts.GetClassifierPrompt()
	if err != nil {
		log.Printf("Warning: Failed to load classifier prompt: %v", err)
		systemPrompt = DefaultPrompt
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
	}
	if r.History != nil {
		history, err := r.History.GetHistory(ctx, chatID, r.HistoryLimit)
		if err != nil {
			log.Printf("Warning: Failed to load history for %s: %v", chatID, err)
		}
		messages = append(messages, history...)
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(input)},
	})

	resp, err := r.Model.GenerateContent(ctx, messages, llms.WithTools(classifierTools()))
	if err != nil {
		return Intent{}, fmt.Errorf("classify: %w", err)
	}
	if r.History != nil {
		if err := r.History.AddMessage(ctx, chatID, store.RoleHuman, input); err != nil {
			log.Printf("Warning: Failed to record message for %s: %v", chatID, err)
		}
	}
	if len(resp.Choices) == 0 {
		return Intent{}, ErrNoClassification
	}

	choice := resp.Choices[0]
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != classifyTool {
			continue
		}
		return parseClassification(tc.FunctionCall.Arguments)
	}

	if choice.Content != "" {
		return Intent{Type: string(decompose.IntentUnknown), Reply: choice.Content}, nil
	}
	return Intent{}, ErrNoClassification
}

// parseClassification decodes the tool arguments and canonicalizes the tag
// through the decomposition table's aliases.
func parseClassification(args string) (Intent, error) {
	var in Intent
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return Intent{}, fmt.Errorf("failed to parse %s arguments: %w", classifyTool, err)
	}
	family, _ := decompose.Lookup(in.Type)
	in.Type = string(family.Intent)
	if in.Entities == nil {
		in.Entities = map[string]any{}
	}
	return in, nil
}

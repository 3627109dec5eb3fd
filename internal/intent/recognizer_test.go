package intent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	return m.resp, m.err
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type memHistory struct {
	added []string
	past  []llms.MessageContent
}

func (h *memHistory) AddMessage(_ context.Context, _ string, role string, content string) error {
	h.added = append(h.added, role+":"+content)
	return nil
}

func (h *memHistory) GetHistory(_ context.Context, _ string, _ int) ([]llms.MessageContent, error) {
	return h.past, nil
}

func toolCall(args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call-1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: classifyTool, Arguments: args},
		}},
	}}}
}

func TestRecognizeCanonicalizesAliases(t *testing.T) {
	model := &fakeModel{resp: toolCall(`{"intent":"schedule_meeting","entities":{"title":"Sync","start":"2026-10-16 10:00"},"confidence":0.9}`)}
	history := &memHistory{past: []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart("earlier")},
	}}}
	r := NewRecognizer(model, NewPromptManager(""), history)

	in, err := r.Recognize(context.Background(), "chat-1", "set up a sync at 10")
	require.NoError(t, err)
	assert.Equal(t, "calendar.create", in.Type)
	assert.Equal(t, "Sync", in.Entities["title"])
	assert.InDelta(t, 0.9, in.Confidence, 1e-9)

	require.Len(t, model.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.TextPart("earlier"), model.messages[1].Parts[0])
	assert.Equal(t, llms.TextPart("set up a sync at 10"), model.messages[2].Parts[0])
	require.Len(t, model.opts.Tools, 1)
	assert.Equal(t, classifyTool, model.opts.Tools[0].Function.Name)
	assert.Equal(t, []string{"human:set up a sync at 10"}, history.added)
}

func TestRecognizeUnknownTag(t *testing.T) {
	model := &fakeModel{resp: toolCall(`{"intent":"order_pizza","entities":null}`)}
	r := NewRecognizer(model, nil, nil)

	in, err := r.Recognize(context.Background(), "chat-1", "pizza please")
	require.NoError(t, err)
	assert.Equal(t, "unknown", in.Type)
	assert.NotNil(t, in.Entities)
}

func TestRecognizeTextReply(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Hello there"}}}}
	r := NewRecognizer(model, nil, nil)

	in, err := r.Recognize(context.Background(), "chat-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "unknown", in.Type)
	assert.Equal(t, "Hello there", in.Reply)
}

func TestRecognizeErrors(t *testing.T) {
	r := NewRecognizer(&fakeModel{err: errors.New("rate limited")}, nil, nil)
	_, err := r.Recognize(context.Background(), "c", "x")
	assert.ErrorContains(t, err, "rate limited")

	r = NewRecognizer(&fakeModel{resp: &llms.ContentResponse{}}, nil, nil)
	_, err = r.Recognize(context.Background(), "c", "x")
	assert.ErrorIs(t, err, ErrNoClassification)

	r = NewRecognizer(&fakeModel{resp: toolCall(`{not json`)}, nil, nil)
	_, err = r.Recognize(context.Background(), "c", "x")
	assert.ErrorContains(t, err, "failed to parse")
}

func TestTagsIncludeEveryFamily(t *testing.T) {
	tags := Tags()
	assert.Contains(t, tags, "calendar.delete")
	assert.Contains(t, tags, "web.lookup")
	assert.Equal(t, "unknown", tags[len(tags)-1])
}

func TestPromptManagerOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"identity.md":   "Identity Content",
		"classifier.md": "Classifier Content",
		"user.md":       "User Content",
		"extra.md":      "Extra Content",
		"notes.txt":     "ignored",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	prompt, err := NewPromptManager(dir).GetClassifierPrompt()
	require.NoError(t, err)

	assert.NotContains(t, prompt, "ignored")
	assert.Less(t, strings.Index(prompt, "Identity Content"), strings.Index(prompt, "Classifier Content"))
	assert.Less(t, strings.Index(prompt, "Classifier Content"), strings.Index(prompt, "User Content"))
	assert.Less(t, strings.Index(prompt, "User Content"), strings.Index(prompt, "Extra Content"))
}

func TestPromptManagerFallsBackToDefault(t *testing.T) {
	prompt, err := NewPromptManager(filepath.Join(t.TempDir(), "missing")).GetClassifierPrompt()
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, prompt)

	prompt, err = NewPromptManager(t.TempDir()).GetClassifierPrompt()
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, prompt)
}

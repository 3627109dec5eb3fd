package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rahul/taskmesh/internal/plan"
)

// Messenger delivers a text to a chat on some messaging platform.
type Messenger interface {
	Send(chatID string, text string) error
}

// MessageExecutor handles message.send. Recipients are resolved through
// Contacts; unknown names are used as chat ids verbatim.
type MessageExecutor struct {
	Messenger Messenger
	Contacts  map[string]string
}

// NewMessageExecutor keys contacts by lowercased name; lookups ignore case.
func NewMessageExecutor(m Messenger, contacts map[string]string) *MessageExecutor {
	folded := make(map[string]string, len(contacts))
	for name, id := range contacts {
		folded[strings.ToLower(strings.TrimSpace(name))] = id
	}
	return &MessageExecutor{Messenger: m, Contacts: folded}
}

func (m *MessageExecutor) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	if err := requireParams(action, "recipient", "text"); err != nil {
		return nil, err
	}

	var sent []string
	for _, name := range strings.Split(action.Param("recipient"), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chatID := m.resolve(name)
		if err := m.Messenger.Send(chatID, action.Param("text")); err != nil {
			return nil, fmt.Errorf("failed to send message to %s: %w", name, err)
		}
		sent = append(sent, name)
	}
	if len(sent) == 0 {
		return nil, Invalidf(action, "no recipients")
	}
	return map[string]any{"sent_to": sent}, nil
}

func (m *MessageExecutor) resolve(name string) string {
	if id, ok := m.Contacts[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// NotifyExecutor handles system.notify by messaging the plan's owner. When
// the action names a source action with a text result, an excerpt of that
// result is appended.
type NotifyExecutor struct {
	Messenger  Messenger
	MaxExcerpt int
}

func NewNotifyExecutor(m Messenger) *NotifyExecutor {
	return &NotifyExecutor{Messenger: m, MaxExcerpt: 1500}
}

func (n *NotifyExecutor) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	if err := requireParams(action, "message"); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, Invalidf(action, "plan has no user to notify")
	}

	text := action.Param("message")
	if src := action.Param("source"); src != "" {
		if s, ok := p.Action(src); ok {
			if body, ok := s.Result.(string); ok && body != "" {
				text += "\n\n" + truncate(body, n.MaxExcerpt)
			}
		}
	}
	if err := n.Messenger.Send(p.UserID, text); err != nil {
		return nil, fmt.Errorf("failed to notify %s: %w", p.UserID, err)
	}
	return text, nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "\n... (truncated) ..."
}

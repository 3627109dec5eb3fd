package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rahul/taskmesh/internal/confirm"
)

// Gateway is a connection to one messaging platform (Telegram, Discord, etc.)
type Gateway interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// RequestConfirmation asks the chat in req.UserID to approve an action
	RequestConfirmation(ctx context.Context, req confirm.Request) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Mux routes outbound traffic to the gateway owning a user id. User ids are
// "<prefix>:<chat id>", e.g. "tg:12345".
type Mux struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewMux() *Mux {
	return &Mux{gateways: make(map[string]Gateway)}
}

// Add registers g under prefix.
func (m *Mux) Add(prefix string, g Gateway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways[prefix] = g
}

// UserID builds the user id for chatID on the gateway registered as prefix.
func UserID(prefix, chatID string) string {
	return prefix + ":" + chatID
}

func (m *Mux) route(userID string) (Gateway, string, error) {
	prefix, chatID, ok := strings.Cut(userID, ":")
	if !ok || chatID == "" {
		return nil, "", fmt.Errorf("user id %q has no gateway prefix", userID)
	}
	m.mu.RLock()
	g, ok := m.gateways[prefix]
	m.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no gateway registered for %q", prefix)
	}
	return g, chatID, nil
}

// Send implements tools.Messenger.
func (m *Mux) Send(userID string, text string) error {
	g, chatID, err := m.route(userID)
	if err != nil {
		return err
	}
	return g.Send(chatID, text)
}

// RequestConfirmation implements confirm.Channel.
func (m *Mux) RequestConfirmation(ctx context.Context, req confirm.Request) error {
	g, chatID, err := m.route(req.UserID)
	if err != nil {
		return err
	}
	req.UserID = chatID
	return g.RequestConfirmation(ctx, req)
}

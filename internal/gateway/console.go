package gateway

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rahul/taskmesh/internal/confirm"
)

// ConsolePrefix marks user ids of the local console.
const ConsolePrefix = "cli"

// ConsoleGateway prints outbound traffic. It backs the run command, where
// confirmations are answered from the command line rather than a chat.
type ConsoleGateway struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleGateway(out io.Writer) *ConsoleGateway {
	return &ConsoleGateway{out: out}
}

func (c *ConsoleGateway) Start() error { return nil }

func (c *ConsoleGateway) Send(chatID string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[ → %s ] %s\n", chatID, text)
	return err
}

func (c *ConsoleGateway) RequestConfirmation(ctx context.Context, req confirm.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[ CONFIRM %s ] %s\n", req.Handle, req.Description)
	return err
}

func (c *ConsoleGateway) Stop() error { return nil }

package channel

import (
	"context"
	"errors"

	"github.com/tgifai/strix/internal/pkg/logs"
)

// consoleChannel is the fallback for targets no configured channel owns.
// Outbound text goes to the process log and is reported as not sent.
type consoleChannel struct{}

func newConsoleChannel() *consoleChannel { return &consoleChannel{} }

func (c *consoleChannel) ID() string                 { return string(Console) }
func (c *consoleChannel) Type() Type                 { return Console }
func (c *consoleChannel) Stop(context.Context) error { return nil }

func (c *consoleChannel) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *consoleChannel) SendMessage(ctx context.Context, chatID string, content string) (string, error) {
	logs.CtxInfo(ctx, "[channel:console] -> %s: %s", chatID, content)
	return "", nil
}

func (c *consoleChannel) ReactMessage(ctx context.Context, chatID, messageID, reaction string) error {
	logs.CtxInfo(ctx, "[channel:console] react %s on %s/%s", reaction, chatID, messageID)
	return nil
}

func (c *consoleChannel) RegisterMessageHandler(func(ctx context.Context, msg *Message) error) error {
	return errors.New("console channel has no inbound messages")
}

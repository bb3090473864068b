package channel

import (
	"context"
	"errors"
	"fmt"
)

// Router delivers outbound traffic to the channel named by a qualified
// target. Targets without a matching channel go to the console fallback.
type Router struct {
	reg      *Registry
	fallback Channel
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg, fallback: newConsoleChannel()}
}

func (r *Router) resolve(target string) (Channel, string, bool) {
	channelID, chatID, ok := SplitTarget(target)
	if ok {
		if ch, err := r.reg.Get(channelID); err == nil {
			return ch, chatID, true
		}
	}
	return r.fallback, target, false
}

// SendMessage reports sent=false when the text only reached the fallback.
func (r *Router) SendMessage(ctx context.Context, target, text string) (string, bool, error) {
	ch, chatID, routed := r.resolve(target)
	messageID, err := ch.SendMessage(ctx, chatID, text)
	if err != nil {
		return "", false, fmt.Errorf("send via %s: %w", ch.ID(), err)
	}
	return messageID, routed, nil
}

func (r *Router) React(ctx context.Context, target, messageID, reaction string) error {
	if messageID == "" {
		return nil
	}
	ch, chatID, _ := r.resolve(target)
	err := ch.ReactMessage(ctx, chatID, messageID, reaction)
	if errors.Is(err, ErrUnsupportedOperation) {
		return nil
	}
	return err
}

// Typing shows a typing state on target. Channels without the capability
// and unrouted targets are a no-op.
func (r *Router) Typing(ctx context.Context, target string) error {
	ch, chatID, routed := r.resolve(target)
	if !routed {
		return nil
	}
	ti, ok := ch.(TypingIndicator)
	if !ok {
		return nil
	}
	return ti.SendTyping(ctx, chatID)
}

package channel

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
)

// Channel is a runtime adapter between strix and a chat platform. It turns
// inbound platform events into Messages and performs outbound sends and
// reactions on behalf of a turn.
type Channel interface {
	// ID returns the unique configured channel identifier.
	ID() string

	// Type returns the channel provider type.
	Type() Type

	// Start runs the receive loop and blocks until ctx is canceled or a
	// fatal error occurs.
	Start(ctx context.Context) error

	// Stop gracefully shuts down channel resources.
	Stop(ctx context.Context) error

	// SendMessage sends text to chatID and returns the platform message id,
	// which may be empty when the platform assigns none.
	SendMessage(ctx context.Context, chatID string, content string) (string, error)

	// ReactMessage sets an emoji reaction on a message. Implementations that
	// cannot react return ErrUnsupportedOperation.
	ReactMessage(ctx context.Context, chatID string, messageID string, reaction string) error

	// RegisterMessageHandler registers the inbound message callback.
	RegisterMessageHandler(handler func(ctx context.Context, msg *Message) error) error
}

// TypingIndicator is implemented by channels that can show a transient
// "typing" state. The state expires on its own after a few seconds, so
// callers repeat it for as long as the work lasts.
type TypingIndicator interface {
	SendTyping(ctx context.Context, chatID string) error
}

type Route struct {
	Method  string
	Path    string
	Handler app.HandlerFunc
}

// RouteProvider is implemented by channels that receive traffic over the
// gateway's HTTP server.
type RouteProvider interface {
	Routes() []Route
}

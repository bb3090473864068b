package turn

import "context"

// Executor performs the model-driven work for one turn. It must return when
// ctx is done; a hard stop cancels ctx and ends the turn without waiting.
type Executor interface {
	Execute(ctx context.Context, t *Turn) error
}

type ExecutorFunc func(ctx context.Context, t *Turn) error

func (f ExecutorFunc) Execute(ctx context.Context, t *Turn) error {
	return f(ctx, t)
}

// Messenger delivers outbound text. sent is false when the text did not
// reach a chat platform.
type Messenger interface {
	SendMessage(ctx context.Context, target, text string) (messageID string, sent bool, err error)
	React(ctx context.Context, target, messageID, reaction string) error
}

// Typist is an optional Messenger capability. The serializer keeps a typing
// state up on the trigger's chat while a chat turn runs.
type Typist interface {
	Typing(ctx context.Context, target string) error
}

package channel

import (
	"errors"
	"strings"
)

var (
	ErrUnsupportedOperation = errors.New("channel operation is not supported")
	ErrChannelNotFound      = errors.New("channel not found")
)

type Type string

const (
	Telegram Type = "telegram"
	HTTP     Type = "http"
	Stdin    Type = "stdin"
	Console  Type = "console"
)

var SupportedChannels = []Type{
	Telegram,
	HTTP,
	Stdin,
}

// Reactions applied by the runtime.
const (
	ReactionFailed  = "❌"
	ReactionWarning = "⚠️"
)

type Message struct {
	ID          string
	ChannelID   string
	ChannelType Type
	UserID      string
	Author      string
	ChatID      string
	Content     string
	Metadata    map[string]string
}

// Target is the qualified address of the chat the message came from.
func (m *Message) Target() string {
	return JoinTarget(m.ChannelID, m.ChatID)
}

const targetSep = ":"

// JoinTarget builds the "<channel-id>:<chat-id>" address used as a
// trigger's channel id.
func JoinTarget(channelID, chatID string) string {
	if channelID == "" {
		return chatID
	}
	return channelID + targetSep + chatID
}

// SplitTarget is the inverse of JoinTarget. ok is false for unqualified
// addresses.
func SplitTarget(target string) (channelID, chatID string, ok bool) {
	channelID, chatID, ok = strings.Cut(strings.TrimSpace(target), targetSep)
	if !ok || channelID == "" || chatID == "" {
		return "", target, false
	}
	return channelID, chatID, true
}

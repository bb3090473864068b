package turn

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Source string

const (
	SourceChatMessage Source = "chat_message"
	SourceScheduler   Source = "scheduler"
)

func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceChatMessage, "chat", "":
		return SourceChatMessage, nil
	case SourceScheduler:
		return SourceScheduler, nil
	default:
		return "", fmt.Errorf("unknown trigger source: %q", s)
	}
}

// Trigger is a unit of work offered to the Serializer. It lives in memory
// only and is gone once its turn ends.
type Trigger struct {
	Source    Source
	ChannelID string
	JobName   string
	Payload   string

	// MessageID and Author identify the inbound chat message, if any.
	MessageID string
	Author    string

	EnqueuedAt time.Time
}

func NewChatTrigger(channelID, payload string) *Trigger {
	return &Trigger{
		Source:    SourceChatMessage,
		ChannelID: channelID,
		Payload:   payload,
	}
}

func NewSchedulerTrigger(jobName, channelID, prompt string) *Trigger {
	return &Trigger{
		Source:    SourceScheduler,
		ChannelID: channelID,
		JobName:   jobName,
		Payload:   prompt,
	}
}

func (t *Trigger) Validate() error {
	switch t.Source {
	case SourceChatMessage:
		return nil
	case SourceScheduler:
		if strings.TrimSpace(t.JobName) == "" {
			return errors.New("scheduler trigger requires a job name")
		}
		return nil
	default:
		return fmt.Errorf("unknown trigger source: %q", t.Source)
	}
}

// DedupeKey is non-empty for triggers that may have at most one queued or
// running instance.
func (t *Trigger) DedupeKey() string {
	if t.Source != SourceScheduler || t.JobName == "" {
		return ""
	}
	return "scheduler:" + t.JobName
}

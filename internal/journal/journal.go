// Package journal is the append-only record of the agent's own account of
// each turn: what the user wanted, what it did, and what it expects next.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tgifai/strix/internal/pkg/jsonl"
)

var ErrEmptyEntry = errors.New("journal entry needs user_wanted or agent_did")

type Entry struct {
	Timestamp   string `json:"timestamp"`
	SessionID   string `json:"session_id"`
	ChannelID   string `json:"channel_id"`
	UserWanted  string `json:"user_wanted"`
	AgentDid    string `json:"agent_did"`
	Predictions string `json:"predictions"`
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.UserWanted) == "" && strings.TrimSpace(e.AgentDid) == "" {
		return ErrEmptyEntry
	}
	return nil
}

type Sink interface {
	Append(ctx context.Context, e Entry) error
}

type FileSink struct {
	w   *jsonl.Writer
	now func() time.Time
}

func OpenFile(opts jsonl.Options) (*FileSink, error) {
	w, err := jsonl.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &FileSink{w: w, now: time.Now}, nil
}

func (s *FileSink) Path() string { return s.w.Path() }

func (s *FileSink) Append(_ context.Context, e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = s.now().UTC().Format(time.RFC3339Nano)
	}
	return s.w.Append(e)
}

func (s *FileSink) Close() error {
	return s.w.Close()
}

func ReadFile(path string) ([]Entry, error) {
	return jsonl.ReadFile[Entry](path)
}

func Tail(path string, n int) ([]Entry, error) {
	return jsonl.Tail[Entry](path, n)
}

type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemorySink) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tgifai/strix/internal/pkg/jsonl"
	"github.com/tgifai/strix/internal/pkg/logs"
)

// Sink is the append-only event log. Append returns only after the record
// is written, or with the write error.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

type FileSink struct {
	w   *jsonl.Writer
	now func() time.Time
}

func OpenFile(opts jsonl.Options) (*FileSink, error) {
	w, err := jsonl.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return NewFileSink(w), nil
}

func NewFileSink(w *jsonl.Writer) *FileSink {
	return &FileSink{w: w, now: time.Now}
}

func (s *FileSink) Path() string { return s.w.Path() }

func (s *FileSink) Append(ctx context.Context, rec Record) error {
	rec = stamp(rec, s.now)
	if err := s.w.Append(rec); err != nil {
		return err
	}
	logs.CtxDebug(ctx, "[eventlog] %s session=%s %v", rec.Type, rec.SessionID, rec.Fields)
	return nil
}

func (s *FileSink) Close() error {
	return s.w.Close()
}

func stamp(rec Record, now func() time.Time) Record {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

// MemorySink keeps records in memory. Setting Err makes every Append fail.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	Err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, stamp(rec, time.Now))
	return nil
}

func (s *MemorySink) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemorySink) OfType(typ string) []Record {
	var out []Record
	for _, r := range s.Records() {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

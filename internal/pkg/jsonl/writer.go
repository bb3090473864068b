package jsonl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxSizeMB is where an append-only log rolls over.
const DefaultMaxSizeMB = 1

var ErrClosed = errors.New("jsonl writer is closed")

type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Writer appends one JSON document per line. Each Append is a single
// Write call made under the writer's lock, so concurrent appends never
// interleave within a line.
type Writer struct {
	path string
	out  io.WriteCloser

	mu     sync.Mutex
	closed bool
}

// Open returns a Writer backed by a size-rotated file at opts.Path.
func Open(opts Options) (*Writer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("jsonl path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create jsonl dir: %w", err)
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeMB
	}

	return &Writer{
		path: path,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: max(opts.MaxBackups, 0),
			Compress:   opts.Compress,
		},
	}, nil
}

// NewWriter wraps an arbitrary destination. Close is a no-op unless w is
// also an io.Closer.
func NewWriter(w io.Writer) *Writer {
	wc, ok := w.(io.WriteCloser)
	if !ok {
		wc = nopCloser{w}
	}
	return &Writer{out: wc}
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Append(v any) error {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal jsonl record: %w", err)
	}
	line := make([]byte, 0, len(raw)+1)
	line = append(line, raw...)
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	n, err := w.out.Write(line)
	if err != nil {
		return fmt.Errorf("write jsonl record: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("write jsonl record: %w", io.ErrShortWrite)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.out.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

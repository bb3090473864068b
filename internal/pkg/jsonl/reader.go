package jsonl

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
)

const maxLineSize = 4 * 1024 * 1024

// Scan calls fn for every non-blank line of the file at path. A missing
// file is treated as empty.
func Scan(path string, fn func(lineNo int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open jsonl file: %w", err)
	}
	defer f.Close()
	return scan(f, fn)
}

func scan(r io.Reader, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan jsonl file: %w", err)
	}
	return nil
}

// ReadFile decodes every line of path into T, in file order. A malformed
// line fails the whole read.
func ReadFile[T any](path string) ([]T, error) {
	var out []T
	err := Scan(path, func(lineNo int, line []byte) error {
		var v T
		if err := sonic.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Tail returns the last n decodable records of path. Malformed lines are
// skipped so a torn final write never hides the rest of the log.
func Tail[T any](path string, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]T, 0, n)
	err := Scan(path, func(_ int, line []byte) error {
		var v T
		if sonic.Unmarshal(line, &v) != nil {
			return nil
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ring, nil
}

package logs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" WARN ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLineFormatter_SessionAndLogID(t *testing.T) {
	ctx := SetLogID(context.Background(), "log-1")
	ctx = WithSession(ctx, "sess-1")

	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "[turn] started",
		Context: ctx,
	}
	raw, err := (&lineFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	line := string(raw)
	for _, want := range []string{"INFO", "2024-01-02 03:04:05,000", "log-1", "sid=sess-1", "[turn] started"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line should end with newline: %q", line)
	}
}

func TestLineFormatter_NoSession(t *testing.T) {
	entry := &logrus.Entry{Time: time.Now(), Level: logrus.WarnLevel, Message: "plain"}
	raw, err := (&lineFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if strings.Contains(string(raw), "sid=") {
		t.Errorf("unexpected session tag in %q", raw)
	}
}

func TestStripANSI(t *testing.T) {
	got := string(stripANSI([]byte("\x1b[32mINFO\x1b[0m ok")))
	if got != "INFO ok" {
		t.Fatalf("stripANSI = %q", got)
	}
}

func TestBuildWriter_FileRequiresPath(t *testing.T) {
	if _, err := buildWriter(Options{}, "file"); err == nil {
		t.Fatal("expected error without file path")
	}
	if _, err := buildWriter(Options{}, "syslog"); err == nil {
		t.Fatal("expected error for unknown output")
	}
}

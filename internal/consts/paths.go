package consts

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	StrixDirName      = ".strix"
	HomeEnv           = "STRIX_HOME"
	ConfigFileName    = "config.yaml"
	SchedulerFileName = "scheduler.yaml"
	LogsDirName       = "logs"
	EventsFileName    = "events.jsonl"
	JournalFileName   = "journal.jsonl"
)

// StrixHomeDir returns $STRIX_HOME when set, otherwise ~/.strix.
func StrixHomeDir() string {
	if v := strings.TrimSpace(os.Getenv(HomeEnv)); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, StrixDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(StrixHomeDir(), ConfigFileName)
}

// ResolvePath anchors a relative path at home. Absolute paths are returned cleaned.
func ResolvePath(home, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(home, p)
}

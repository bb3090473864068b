package logs

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/tgifai/strix/internal/consts"
)

// lineFormatter renders "LEVEL time file:line logid [sid] message".
type lineFormatter struct {
	enableColor bool
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05,000")
	level := strings.ToUpper(entry.Level.String())
	if f.enableColor {
		level = colorizeLevel(entry.Level, level)
	}

	skip := 9
	if entry.Context != nil {
		skip = 8
	}
	_, file, line, ok := runtime.Caller(skip)
	if ok {
		file = shortFilePath(file)
	}

	var logID, sessionID string
	if entry.Context != nil {
		logID, _ = entry.Context.Value(consts.CtxKeyLogID).(string)
		sessionID, _ = entry.Context.Value(consts.CtxKeySessionID).(string)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s:%d %s", level, timestamp, file, line, logID)
	if sessionID != "" {
		fmt.Fprintf(&b, " sid=%s", sessionID)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// shortFilePath returns "dir/file.go" (two-level) when a parent directory
// exists, otherwise just "file.go".
func shortFilePath(fullPath string) string {
	dir, file := filepath.Split(fullPath)
	if dir == "" {
		return file
	}
	return filepath.Base(filepath.Clean(dir)) + "/" + file
}

func shouldColorizeStdout(output string) bool {
	if output == "file" {
		return false
	}
	return !color.NoColor
}

var (
	colorDebug = color.New(color.FgCyan)
	colorInfo  = color.New(color.FgGreen)
	colorWarn  = color.New(color.FgYellow)
	colorError = color.New(color.FgRed)
)

func colorizeLevel(level logrus.Level, text string) string {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return colorDebug.Sprint(text)
	case logrus.InfoLevel:
		return colorInfo.Sprint(text)
	case logrus.WarnLevel:
		return colorWarn.Sprint(text)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorError.Sprint(text)
	default:
		return text
	}
}

package core

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Log levels in increasing severity.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// JSONLogger writes one JSON object per line. Safe for concurrent use.
type JSONLogger struct {
	mu    sync.Mutex
	out   io.Writer
	level int
}

// NewJSONLogger creates a logger writing to out at the given level
// ("debug", "info", "warn", "error"). Unknown levels default to info.
func NewJSONLogger(out io.Writer, level string) *JSONLogger {
	if out == nil {
		out = os.Stdout
	}
	return &JSONLogger{out: out, level: parseLevel(level)}
}

func parseLevel(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *JSONLogger) log(level int, name, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = name
	entry["message"] = msg

	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.out)
	_ = enc.Encode(entry)
}

func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(levelDebug, "debug", msg, fields)
}

func (l *JSONLogger) Info(msg string, fields map[string]interface{}) {
	l.log(levelInfo, "info", msg, fields)
}

func (l *JSONLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(levelWarn, "warn", msg, fields)
}

func (l *JSONLogger) Error(msg string, fields map[string]interface{}) {
	l.log(levelError, "error", msg, fields)
}

// Compile-time interface check
var _ Logger = (*JSONLogger)(nil)
var _ Logger = (*NoOpLogger)(nil)

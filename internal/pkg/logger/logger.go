// Package logger writes structured JSON log lines with levels and email
// redaction.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel maps LOG_LEVEL values to a Level. Unknown values mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Logger emits one JSON object per entry. Bound fields from With are written
// before the per-call fields.
type Logger struct {
	out    *output
	fields []any
}

type output struct {
	mu        sync.Mutex
	w         io.Writer
	level     Level
	redactPII bool
	now       func() time.Time
}

// New returns a logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: &output{w: w, level: level, redactPII: true, now: time.Now}}
}

var defaultLogger = New(os.Stderr, INFO)

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

func SetLevel(l Level) {
	defaultLogger.out.mu.Lock()
	defaultLogger.out.level = l
	defaultLogger.out.mu.Unlock()
}

func SetRedactPII(r bool) {
	defaultLogger.out.mu.Lock()
	defaultLogger.out.redactPII = r
	defaultLogger.out.mu.Unlock()
}

func Debug(msg string, fields ...any) { defaultLogger.log(DEBUG, msg, fields) }
func Info(msg string, fields ...any)  { defaultLogger.log(INFO, msg, fields) }
func Warn(msg string, fields ...any)  { defaultLogger.log(WARN, msg, fields) }
func Error(msg string, fields ...any) { defaultLogger.log(ERROR, msg, fields) }

// With returns a logger that adds the key/value pairs to every entry.
func (l *Logger) With(fields ...any) *Logger {
	bound := make([]any, 0, len(l.fields)+len(fields))
	bound = append(bound, l.fields...)
	bound = append(bound, fields...)
	return &Logger{out: l.out, fields: bound}
}

func (l *Logger) Debug(msg string, fields ...any) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...any)  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...any)  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...any) { l.log(ERROR, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []any) {
	o := l.out
	o.mu.Lock()
	defer o.mu.Unlock()
	if level < o.level {
		return
	}

	entry := map[string]any{
		"time":  o.now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	all := append(append([]any{}, l.fields...), fields...)
	for i := 0; i+1 < len(all); i += 2 {
		key := fmt.Sprint(all[i])
		val := fmt.Sprint(all[i+1])
		if o.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintln(o.w, string(data))
}

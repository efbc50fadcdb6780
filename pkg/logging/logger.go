// Package logging implements the structured leveled logger every other
// package in this module logs through, instead of fmt.Println or the
// stdlib log package. Follows the level/field/component logger shape of
// pkg/common/logging, with storage-domain fields replaced by this
// module's own conventional fields (threadID, sessionID, taskName,
// reason) and the same field-sanitization rule for anything that looks
// like a credential.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level is the logger's severity, lowest to highest.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name, defaulting to InfoLevel
// on an unrecognized value.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("logging: invalid level %q", s)
	}
}

// Format selects the on-disk/console encoding.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// entry is one emitted log record.
type entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// sensitiveFieldNames are field keys that get redacted wholesale rather
// than pattern-matched, mirroring pkg/common/logging's sensitive-key list.
var sensitiveFieldNames = regexp.MustCompile(`(?i)(password|secret|token|apikey|api_key|dsn|authorization)`)

// Config configures a Logger. Zero value is not usable; use New or
// DefaultConfig().
type Config struct {
	Level            Level
	Format           Format
	Output           io.Writer
	Component        string
	EnableSanitizing bool
}

// DefaultConfig returns InfoLevel, TextFormat, stderr, sanitizing on.
func DefaultConfig() *Config {
	return &Config{
		Level:            InfoLevel,
		Format:           TextFormat,
		Output:           os.Stderr,
		EnableSanitizing: true,
	}
}

// Logger is a structured leveled logger. Safe for concurrent use; the
// mutex only guards the output writer, not the hot field-formatting path.
type Logger struct {
	mu     sync.Mutex
	cfg    Config
	fields map[string]any
}

// New constructs a Logger from cfg. A nil cfg is equivalent to
// DefaultConfig().
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{cfg: *cfg}
}

// WithComponent returns a derived Logger tagging every entry with name,
// e.g. "executor", "reactor", "session".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{cfg: withComponent(l.cfg, name), fields: cloneFields(l.fields)}
}

func withComponent(cfg Config, name string) Config {
	cfg.Component = name
	return cfg
}

// WithField returns a derived Logger carrying one additional structured
// field on every subsequent entry.
func (l *Logger) WithField(key string, value any) *Logger {
	fields := cloneFields(l.fields)
	fields[key] = value
	return &Logger{cfg: l.cfg, fields: fields}
}

// WithFields is the multi-key form of WithField.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := cloneFields(l.fields)
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{cfg: l.cfg, fields: merged}
}

func cloneFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (l *Logger) log(level Level, msg string) {
	if level < l.cfg.Level {
		return
	}
	e := entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Component: l.cfg.Component,
		Message:   msg,
		Fields:    l.fields,
	}
	if l.cfg.EnableSanitizing {
		e.Fields = sanitizeFields(e.Fields)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.cfg.Format {
	case JSONFormat:
		b, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintln(l.cfg.Output, string(b))
	default:
		writeText(l.cfg.Output, e)
	}
}

func writeText(w io.Writer, e entry) {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(e.Level)
	if e.Component != "" {
		b.WriteByte(' ')
		b.WriteByte('[')
		b.WriteString(e.Component)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)
	for k, v := range e.Fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(w, b.String())
}

func sanitizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveFieldNames.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

// Debugf logs at DebugLevel.
func (l *Logger) Debugf(format string, args ...any) { l.log(DebugLevel, fmt.Sprintf(format, args...)) }

// Infof logs at InfoLevel. Satisfies entrypoint.Logger.
func (l *Logger) Infof(format string, args ...any) { l.log(InfoLevel, fmt.Sprintf(format, args...)) }

// Warnf logs at WarnLevel. Satisfies executor.Logger.
func (l *Logger) Warnf(format string, args ...any) { l.log(WarnLevel, fmt.Sprintf(format, args...)) }

// Errorf logs at ErrorLevel.
func (l *Logger) Errorf(format string, args ...any) { l.log(ErrorLevel, fmt.Sprintf(format, args...)) }

// global is the process-wide default logger used by InitGlobal/Global.
var (
	globalMu sync.RWMutex
	global   = New(DefaultConfig())
)

// InitGlobal replaces the package-level default logger.
func InitGlobal(l *Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// Global returns the package-level default logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

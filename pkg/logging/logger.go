// Package logging wraps log/slog with the fields every node component logs:
// the service, the environment, a component name and the request id when one
// is in flight.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// LogLevel is a configured minimum level.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

var slogLevels = map[LogLevel]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
}

// Format selects the handler output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Logger is a slog.Logger taking loosely typed key-value pairs.
type Logger struct {
	*slog.Logger
}

// Config holds the configuration for the logger.
type Config struct {
	Level LogLevel
	// Format defaults to JSON.
	Format      Format
	Output      io.Writer
	ServiceName string
	// Environment, e.g. "production" or "development".
	Environment string
}

// DefaultConfig returns the node's logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:       InfoLevel,
		Format:      FormatJSON,
		Output:      os.Stdout,
		ServiceName: "orderless-node",
		Environment: "development",
	}
}

// ParseLevel maps a configuration string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	l := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if l == "warning" {
		return WarnLevel
	}
	if _, ok := slogLevels[l]; ok {
		return l
	}
	return InfoLevel
}

// ParseFormat maps a configuration string onto a Format, defaulting to JSON.
func ParseFormat(s string) Format {
	if Format(strings.ToLower(strings.TrimSpace(s))) == FormatText {
		return FormatText
	}
	return FormatJSON
}

// New creates a logger writing to cfg.Output.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	level, ok := slogLevels[cfg.Level]
	if !ok {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	attrs := []any{slog.String("service", cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, slog.String("environment", cfg.Environment))
	}
	return &Logger{Logger: slog.New(handler).With(attrs...)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithContext returns a Logger carrying the request ID stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return l.WithField("request_id", reqID)
	}
	return l
}

// Named tags the logger with a component name.
func (l *Logger) Named(component string) *Logger {
	return l.WithField("component", component)
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(key, value)}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args) }

func (l *Logger) log(level slog.Level, msg string, args []interface{}) {
	ctx := context.Background()
	if !l.Logger.Enabled(ctx, level) {
		return
	}
	l.Logger.Log(ctx, level, msg, pairs(args)...)
}

// pairs turns key-value args into attrs. A trailing key gets an empty value
// and a non-string key is logged as "unknown".
func pairs(args []interface{}) []any {
	if len(args) == 0 {
		return nil
	}
	attrs := make([]any, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "unknown"
		}
		var value interface{} = ""
		if i+1 < len(args) {
			value = args[i+1]
		}
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

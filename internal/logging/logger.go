// Package logging is the structured logger shared by every component.
//
// Records carry the component that emitted them, and a logged BundleError is
// flattened into error_kind, error_code, path and url attributes so fallbacks
// can be filtered without parsing messages.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/conneroisu/assetmin/internal/errors"
)

// LogLevel is a slog level restricted to the four levels the tool uses.
type LogLevel = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel converts a level name such as "debug" or "WARN" into a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Logger interface for structured logging
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	logger    *slog.Logger
	component string
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// NewLogger creates a logger writing text or JSON records. A nil config logs
// text at info level to stderr.
func NewLogger(config *LoggerConfig) *SlogLogger {
	if config == nil {
		config = &LoggerConfig{Level: LevelInfo, Format: "text"}
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level, AddSource: config.AddSource}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SlogLogger{logger: slog.New(handler), component: config.Component}
}

func (l *SlogLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelDebug, nil, msg, fields)
}

func (l *SlogLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelInfo, nil, msg, fields)
}

func (l *SlogLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, LevelWarn, err, msg, fields)
}

func (l *SlogLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, LevelError, err, msg, fields)
}

// With returns a logger adding fields to every record. The receiver is not
// modified.
func (l *SlogLogger) With(fields ...interface{}) Logger {
	return &SlogLogger{logger: l.logger.With(attrs(fields)...), component: l.component}
}

// WithComponent returns a logger tagging records with component, replacing
// the current one.
func (l *SlogLogger) WithComponent(component string) Logger {
	return &SlogLogger{logger: l.logger, component: component}
}

func (l *SlogLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields []interface{}) {
	if !l.logger.Enabled(ctx, level) {
		return
	}
	if err != nil {
		fields = append([]interface{}{"error", err.Error()}, append(errors.FieldsOf(err), fields...)...)
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	if l.component != "" {
		record.AddAttrs(slog.String("component", l.component))
	}
	record.Add(attrs(fields)...)
	_ = l.logger.Handler().Handle(ctx, record)
}

// attrs turns key/value pairs into slog attributes. Pairs without a string
// key and a trailing key without value are dropped.
func attrs(fields []interface{}) []any {
	out := make([]any, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			out = append(out, slog.Any(key, fields[i+1]))
		}
	}
	return out
}

// ForBundle returns l tagged with the identity of one bundle build.
func ForBundle(l Logger, kind, fingerprint, buildID string) Logger {
	return l.With("kind", kind, "fingerprint", fingerprint, "build_id", buildID)
}

// NopLogger discards everything. Useful as a default and in tests.
type NopLogger struct{}

func (NopLogger) Debug(context.Context, string, ...interface{})        {}
func (NopLogger) Info(context.Context, string, ...interface{})         {}
func (NopLogger) Warn(context.Context, error, string, ...interface{})  {}
func (NopLogger) Error(context.Context, error, string, ...interface{}) {}
func (n NopLogger) With(...interface{}) Logger                         { return n }
func (n NopLogger) WithComponent(string) Logger                        { return n }

// PerfLogger times one operation.
type PerfLogger struct {
	Logger
	start time.Time
}

// StartOperation starts timing operation on l.
func StartOperation(l Logger, operation string) *PerfLogger {
	return &PerfLogger{Logger: l.With("operation", operation), start: time.Now()}
}

// End logs the elapsed time at debug level and returns it.
func (p *PerfLogger) End(ctx context.Context, fields ...interface{}) time.Duration {
	elapsed := time.Since(p.start)
	p.Debug(ctx, "Operation completed", append(fields, "duration_ms", elapsed.Milliseconds())...)
	return elapsed
}

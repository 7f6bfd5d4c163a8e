package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/redact"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	activationIDKey contextKey = "activation_id"
)

// Logger wraps slog.Logger with activation and rendition scoping. Every
// string it writes passes through redact.Text, so presigned URLs lose their
// query before reaching the output.
type Logger struct {
	*slog.Logger
}

type Config struct {
	Level       string    `koanf:"level"`
	Format      string    `koanf:"format"`
	Output      io.Writer `koanf:"-"`
	ServiceName string    `koanf:"service_name"`
}

// New builds a JSON logger, or a text one when cfg.Format is "text".
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}
	return &Logger{Logger: slog.New(handler)}
}

func NewDefault() *Logger {
	return New(Config{Level: "info", ServiceName: "asset-compute"})
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// replaceAttr renders timestamps in UTC and strips URL queries from string,
// error and Stringer values.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
		}
		return a
	}

	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(redact.Text(a.Value.String()))
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case error:
			a.Value = slog.StringValue(redact.Text(v.Error()))
		case fmt.Stringer:
			a.Value = slog.StringValue(redact.Text(v.String()))
		}
	}
	return a
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) WithActivationID(id string) *Logger {
	return l.with(slog.String("activation_id", id))
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with(slog.String("component", component))
}

// WithRendition scopes l to the rendition at index.
func (l *Logger) WithRendition(index int, name string) *Logger {
	return l.with(slog.Int("rendition_index", index), slog.String("rendition", name))
}

// WithURL attaches a locator with its query and fragment removed.
func (l *Logger) WithURL(rawURL string) *Logger {
	return l.with(slog.String("url", redact.URL(rawURL)))
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// FromContext attaches the request and activation IDs carried by ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	var args []any
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		args = append(args, slog.String("request_id", id))
	}
	if id, ok := ctx.Value(activationIDKey).(string); ok && id != "" {
		args = append(args, slog.String("activation_id", id))
	}
	if len(args) == 0 {
		return l
	}
	return l.with(args...)
}

// LogError logs err with the caller's location. A nil err logs nothing.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, "source", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		))
	}
	args = append(args, "error", err.Error())
	l.FromContext(ctx).Error(msg, args...)
}

func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func ContextWithActivationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, activationIDKey, id)
}

func ActivationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(activationIDKey).(string)
	return id
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type ctxKey string

const (
	ctxKeyUserID    ctxKey = "user_id"
	ctxKeyTurnID    ctxKey = "turn_id"
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeySignalID  ctxKey = "signal_id"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// NewLogger builds a logger writing to w. format is "json" or "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// SetLogger replaces the process logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

func Logger() *slog.Logger {
	return logger.Load()
}

// WithTurn stores the user and turn ids used to tag log lines.
func WithTurn(ctx context.Context, userID, turnID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID, userID)
	return context.WithValue(ctx, ctxKeyTurnID, turnID)
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// WithSignal stores the signal_id of the turn being recorded.
func WithSignal(ctx context.Context, signalID string) context.Context {
	return context.WithValue(ctx, ctxKeySignalID, signalID)
}

// LoggerFromContext adds any ids stored in ctx.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	l := Logger()
	if ctx == nil {
		return l
	}
	var attrs []any
	if v, _ := ctx.Value(ctxKeyRequestID).(string); v != "" {
		attrs = append(attrs, "request_id", v)
	}
	if v, _ := ctx.Value(ctxKeyUserID).(string); v != "" {
		attrs = append(attrs, "user_id", v)
	}
	if v, _ := ctx.Value(ctxKeyTurnID).(string); v != "" {
		attrs = append(attrs, "turn_id", v)
	}
	if v, _ := ctx.Value(ctxKeySignalID).(string); v != "" {
		attrs = append(attrs, "signal_id", v)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

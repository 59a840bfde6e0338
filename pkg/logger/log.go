package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	stepLogIDKey  = "step_log_id"
	debugMode     = "debug"
	infoMode      = "info"
	warnMode      = "warn"
	errorMode     = "error"
	defaultChunk  = 4096
	envStepEnable = "STEP_LOG_ENABLED"
	envStepLength = "STEP_LOG_LENGTH"
)

var (
	level         = new(slog.LevelVar)
	defaultLogger *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	defaultLogger = New(os.Stdout)
}

// New builds a JSON logger writing to w that follows the process level.
func New(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLevel changes the process-wide level. Unknown names leave it unchanged.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case debugMode:
		level.Set(slog.LevelDebug)
	case infoMode:
		level.Set(slog.LevelInfo)
	case warnMode, "warning":
		level.Set(slog.LevelWarn)
	case errorMode:
		level.Set(slog.LevelError)
	}
}

type contextKey struct{}

var loggerKey = &contextKey{}

// FromContext returns the logger from context, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return defaultLogger
	}
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}

// WithContext returns a new context that carries the given logger.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithRequestID returns a new context whose logger includes the given request/step ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return With(ctx, stepLogIDKey, id)
}

// With returns a context whose logger carries the extra key-value pairs.
func With(ctx context.Context, args ...interface{}) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}

// StepLogWithContext logs a message, chunked by STEP_LOG_LENGTH when STEP_LOG_ENABLED is true.
// Used for payload dumps that may exceed log line limits.
func StepLogWithContext(ctx context.Context, logLevel string, messagePrefix string, msg ...interface{}) {
	message := fmt.Sprint(msg...)
	chunkLen := getIntEnv(envStepLength, defaultChunk)
	l := FromContext(ctx)
	if !getBoolEnv(envStepEnable, false) || len(message) <= chunkLen {
		logChunk(ctx, l, logLevel, messagePrefix, message)
		return
	}
	for i, part := 0, 1; i < len(message); i, part = i+chunkLen, part+1 {
		end := min(i+chunkLen, len(message))
		logChunk(ctx, l, logLevel, fmt.Sprintf("%s [%d]", messagePrefix, part), message[i:end])
	}
}

func logChunk(ctx context.Context, l *slog.Logger, logLevel, prefix, message string) {
	msg := prefix + " :- " + message
	switch logLevel {
	case debugMode:
		l.DebugContext(ctx, msg)
	case infoMode:
		l.InfoContext(ctx, msg)
	case warnMode:
		l.WarnContext(ctx, msg)
	case errorMode:
		l.ErrorContext(ctx, msg)
	default:
		l.WarnContext(ctx, "Unhandled log level: "+logLevel+". Message: "+message)
	}
}

// InfofWithContext logs at info level with format.
func InfofWithContext(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).InfoContext(ctx, fmt.Sprintf(format, args...))
}

// ErrorfWithContext logs at error level with format.
func ErrorfWithContext(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).ErrorContext(ctx, fmt.Sprintf(format, args...))
}

// Error logs with error level. args are alternating key-value pairs (e.g. "error", err).
func Error(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).ErrorContext(ctx, message, args...)
}

// Info logs with info level. args are alternating key-value pairs.
func Info(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).InfoContext(ctx, message, args...)
}

// Debug logs with debug level. args are alternating key-value pairs.
func Debug(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).DebugContext(ctx, message, args...)
}

// Warn logs with warn level. args are alternating key-value pairs.
func Warn(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).WarnContext(ctx, message, args...)
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getIntEnv(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

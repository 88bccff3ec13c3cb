// Package logging provides structured logging for agentsim.
//
// Diagnostic logs are written with Go's slog package and always go to
// stderr (or a configured file) so that the agent's tagged progress
// lines on stdout stay clean for consumers that parse them.
//
// Example usage:
//
//	logger, err := logging.NewLogger(cfg.Logging)
//	logger.Info("Server started", "port", 9000, "host", "localhost")
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.InfoContext(ctx, "Session started", "command", command)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentsim/agentsim/internal/config"
)

// SessionIDKey is the context key for session IDs.
type SessionIDKey struct{}

// Logger wraps slog.Logger with agentsim-specific functionality.
type Logger struct {
	*slog.Logger
	config config.LoggingConfig
	writer io.Writer
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	writer, err := createLogWriter(cfg.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Verbose,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	handler = &SessionHandler{Handler: handler}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		writer: writer,
	}, nil
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// createLogWriter creates the appropriate writer for log output.
func createLogWriter(outputFile string) (io.Writer, error) {
	if outputFile == "" {
		return os.Stderr, nil
	}

	dir := filepath.Dir(outputFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}

	file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", outputFile, err)
	}

	return file, nil
}

// SessionHandler wraps another handler to attach session IDs from context.
type SessionHandler struct {
	slog.Handler
}

// Handle adds the session ID attribute when one is present in the context.
func (h *SessionHandler) Handle(ctx context.Context, r slog.Record) error {
	if sessionID := GetSessionID(ctx); sessionID != "" {
		r.AddAttrs(slog.String("session_id", sessionID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes.
func (h *SessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SessionHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group.
func (h *SessionHandler) WithGroup(name string) slog.Handler {
	return &SessionHandler{Handler: h.Handler.WithGroup(name)}
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey{}, sessionID)
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewServerLogger creates a logger for the session server.
func NewServerLogger(cfg config.LoggingConfig) (*Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	logger.Logger = logger.Logger.With(
		slog.String("component", "server"),
		slog.String("service", "agentsim"),
	)

	return logger, nil
}

// LogError logs an error with its details.
func (l *Logger) LogError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	allAttrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	}
	allAttrs = append(allAttrs, attrs...)

	l.LogAttrs(ctx, slog.LevelError, msg, allAttrs...)
}

// Close closes any file resources used by the logger.
func (l *Logger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok && l.writer != os.Stderr {
		return closer.Close()
	}
	return nil
}

// Global logger management

var defaultLogger *Logger

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	if defaultLogger == nil {
		cfg := config.LoggingConfig{
			Level:  "info",
			Format: "text",
		}
		logger, _ := NewLogger(cfg)
		return logger
	}
	return defaultLogger
}

// Info logs at Info level using the default logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at Warn level using the default logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at Error level using the default logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Debug logs at Debug level using the default logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

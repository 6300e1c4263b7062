package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Level aliases
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// maxInlineValue is the longest string value logged verbatim. Longer values
// are almost always base64 image data from result payloads.
const maxInlineValue = 512

var globalLogger *slog.Logger
var isTerminal = term.IsTerminal

var sensitiveKeys = map[string]bool{
	"authorization": true,
	"bearer":        true,
	"body":          true,
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_token":     true,
}

var sensitiveKeySubstrings = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"bearer",
}

// binaryKeys hold image payloads; they are elided rather than redacted.
var binaryKeys = map[string]bool{
	"original":   true,
	"deblurred":  true,
	"enhanced":   true,
	"comparison": true,
	"before":     true,
	"images":     true,
	"payload":    true,
}

var sensitiveValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*\b`),
	regexp.MustCompile(`(?i)\b(api[_-]?token|access[_-]?token|secret)\b\s*[:=]\s*\S+`),
}

// RedactAttr is a slog.ReplaceAttr function that redacts credentials and
// elides binary payloads.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if binaryKeys[key] {
		return slog.String(a.Key, "[BINARY]")
	}
	if shouldRedact(key, a.Value) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString && len(a.Value.String()) > maxInlineValue {
		return slog.String(a.Key, fmt.Sprintf("[%d bytes elided]", len(a.Value.String())))
	}
	return a
}

func shouldRedact(key string, v slog.Value) bool {
	if sensitiveKeys[key] {
		return true
	}
	for _, sub := range sensitiveKeySubstrings {
		if strings.Contains(key, sub) {
			return true
		}
	}

	var value string
	switch v.Kind() {
	case slog.KindString:
		value = v.String()
	case slog.KindGroup:
		return false
	default:
		value = fmt.Sprint(v.Any())
	}
	if value == "" {
		return false
	}
	for _, re := range sensitiveValuePatterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func init() {
	// Default logger: Info level to Stderr
	Init(LevelInfo, nil)
}

// Init initializes the global logger.
// logFile is an optional writer for JSONL output (e.g., an os.File).
func Init(level slog.Level, logFile io.Writer) {
	useColor := logFile == nil && isTerminal(int(os.Stderr.Fd()))
	consoleHandler := NewConsoleHandler(os.Stderr, level, useColor)

	var handler slog.Handler = consoleHandler
	if logFile != nil {
		jsonHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: RedactAttr,
		})
		handler = &multiHandler{
			handlers: []slog.Handler{consoleHandler, jsonHandler},
		}
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// NewConsoleHandler returns the human-readable handler used on stderr.
func NewConsoleHandler(w io.Writer, level slog.Level, color bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:       level,
		TimeFormat:  "15:04:05",
		NoColor:     !color,
		ReplaceAttr: RedactAttr,
	})
}

// Global Logging Functions
func Debug(msg string, args ...any) { globalLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { globalLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { globalLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { globalLogger.Error(msg, args...) }

// With returns a child of the global logger carrying args on every record.
func With(args ...any) *slog.Logger { return globalLogger.With(args...) }

// --- Multi Handler Implementation ---

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

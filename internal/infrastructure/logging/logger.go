package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "atomberg-core"

// secretKeys are attribute keys whose values never reach the output verbatim.
var secretKeys = map[string]bool{
	"api_key":       true,
	"refresh_token": true,
	"access_token":  true,
	"token":         true,
	"password":      true,
	"authorization": true,
}

// Logger is the slog logger shared by every component. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by cfg. Entries carry the service name
// and version.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(cfg, version, out)
}

func newWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// redactSecrets masks credential attributes, including ones nested in groups.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}

// parseLevel maps a config level name to slog; unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Account tags entries with an Atomberg account id.
func (l *Logger) Account(id string) *Logger {
	return l.With("account_id", id)
}

// Redact keeps a short prefix of a secret for correlation. Secrets of eight
// characters or fewer are fully masked.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..."
}

// Default is the pre-config logger used during startup.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LogLevelEnvKey overrides the configured log level.
const LogLevelEnvKey = "HSAJ_LOG_LEVEL"

// LogFileName is the log file created inside log_dir.
const LogFileName = "hsaj.log"

// hsajHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type hsajHandler struct {
	w     io.Writer
	opID  string
	level slog.Leveler
	attrs []slog.Attr
}

func (h *hsajHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *hsajHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s", r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.opID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	// Each record is a single write.
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *hsajHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &hsajHandler{
		w:     h.w,
		opID:  h.opID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *hsajHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both logDir/hsaj.log and stderr.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir, opID string, level slog.Level) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := &hsajHandler{w: io.MultiWriter(f, os.Stderr), opID: opID, level: level}
	return slog.New(handler), f, nil
}

// ParseLogLevel parses a level name ("debug", "info", "warn"/"warning",
// "error") or a numeric slog level. The empty string means info.
func ParseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}
	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// ResolveLogLevel picks the level from the --log-level flag, then
// HSAJ_LOG_LEVEL, then the config file. An invalid flag is an error; an
// invalid env or config value falls back to info and returns a warning.
func ResolveLogLevel(flagLevel, configLevel string) (slog.Level, string, error) {
	envLevel := os.Getenv(LogLevelEnvKey)
	raw, source := selectedLogLevel(flagLevel, envLevel, configLevel)

	level, err := ParseLogLevel(raw)
	if err == nil {
		return level, "", nil
	}
	switch source {
	case "flag":
		return slog.LevelInfo, "", fmt.Errorf("invalid --log-level %q", flagLevel)
	case "env":
		return slog.LevelInfo, fmt.Sprintf("warning: invalid %s=%q; defaulting to info", LogLevelEnvKey, envLevel), nil
	default:
		return slog.LevelInfo, fmt.Sprintf("warning: invalid log_level=%q; defaulting to info", configLevel), nil
	}
}

func selectedLogLevel(flagLevel, envLevel, configLevel string) (string, string) {
	if strings.TrimSpace(flagLevel) != "" {
		return flagLevel, "flag"
	}
	if strings.TrimSpace(envLevel) != "" {
		return envLevel, "env"
	}
	if strings.TrimSpace(configLevel) != "" {
		return configLevel, "config"
	}
	return "", "default"
}

// slogAdapter wraps *slog.Logger to satisfy the hsaj.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

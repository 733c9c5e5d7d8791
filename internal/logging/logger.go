package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/config"
)

// New builds the service logger. Every record carries service plus attrs.
// Errors logged under "err" that wrap a program error are expanded into
// their code and name so failed settlements can be grepped by code.
func New(serviceName string, cfg config.LogConfig, attrs ...any) (*slog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, nil, fmt.Errorf("invalid log format %q (expected text|json)", cfg.Format)
	}

	writer, closeWriter, err := openWriter(serviceName, cfg)
	if err != nil {
		return nil, nil, err
	}

	options := &slog.HandlerOptions{Level: level, ReplaceAttr: expandProgramError}
	var handler slog.Handler = slog.NewTextHandler(writer, options)
	if format == "json" {
		handler = slog.NewJSONHandler(writer, options)
	}

	logger := slog.New(handler).With("service", serviceName)
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return logger, closeWriter, nil
}

func expandProgramError(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 || attr.Key != "err" || attr.Value.Kind() != slog.KindAny {
		return attr
	}
	err, ok := attr.Value.Any().(error)
	if !ok {
		return attr
	}
	programErr, ok := auctionhouse.AsProgramError(err)
	if !ok {
		return attr
	}
	return slog.Group(attr.Key,
		slog.String("msg", err.Error()),
		slog.Uint64("code", uint64(programErr.Code)),
		slog.String("name", programErr.Name),
	)
}

func openWriter(serviceName string, cfg config.LogConfig) (io.Writer, func() error, error) {
	output := strings.ToLower(strings.TrimSpace(cfg.Output))
	if output == "" {
		output = "console"
	}
	noop := func() error { return nil }

	switch output {
	case "console":
		return os.Stdout, noop, nil
	case "file", "both":
		file, err := openLogFile(serviceName, cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		if output == "file" {
			return file, file.Close, nil
		}
		return io.MultiWriter(os.Stdout, file), file.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid log output %q (expected console|file|both)", cfg.Output)
	}
}

// openLogFile appends to path, defaulting to logs/<service>.log.
func openLogFile(serviceName string, path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("logs", serviceName+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %q: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", raw)
	}
	return level, nil
}

// Package logging builds the gateway's slog.Logger: every record goes to
// the configured log file, and Error-level-and-above records are echoed to
// stderr, mirroring the original's always-log-to-file-but-surface-errors
// behavior (include/logger.h's file + console split).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Sonugupta2001/trading-gateway/internal/config"
)

// New builds the gateway's root logger from the logging section of Config.
// The returned closer must be deferred by the caller to flush the log file.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)

	var file *os.File
	var err error
	if cfg.File != "" {
		file, err = os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
	} else {
		file = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var fileHandler slog.Handler
	if cfg.Format == "json" {
		fileHandler = slog.NewJSONHandler(file, opts)
	} else {
		fileHandler = slog.NewTextHandler(file, opts)
	}

	handler := fileHandler
	if file != os.Stdout && file != os.Stderr {
		handler = &teeHandler{
			primary: fileHandler,
			errOnly: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
		}
	}

	return slog.New(handler), file, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler writes every record to primary, and additionally to errOnly
// when the record is Error level or above.
type teeHandler struct {
	primary slog.Handler
	errOnly slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || (level >= slog.LevelError && h.errOnly.Enabled(ctx, level))
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.primary.Handle(ctx, record.Clone()); err != nil {
		return err
	}
	if record.Level >= slog.LevelError {
		return h.errOnly.Handle(ctx, record.Clone())
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), errOnly: h.errOnly.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), errOnly: h.errOnly.WithGroup(name)}
}

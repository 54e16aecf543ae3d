package logger

import (
	"context"
	"io"
	"log"
	"os"

	"log/slog"
)

type LevelBasedMuxHandler struct {
	stdoutHandler slog.Handler
	fileHandler   slog.Handler
}

// NewLevelBasedMuxHandler пишет все записи от stdoutLevel в stdout текстом,
// а WARN и выше дополнительно в file в JSON.
func NewLevelBasedMuxHandler(stdout, file io.Writer, stdoutLevel slog.Level) *LevelBasedMuxHandler {
	return &LevelBasedMuxHandler{
		stdoutHandler: slog.NewTextHandler(stdout, &slog.HandlerOptions{
			Level: stdoutLevel,
		}),
		fileHandler: slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}),
	}
}

func (h *LevelBasedMuxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.fileHandler.Enabled(ctx, level)
}

func (h *LevelBasedMuxHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		if err := h.fileHandler.Handle(ctx, r); err != nil {
			return err
		}
	}
	return h.stdoutHandler.Handle(ctx, r)
}

func (h *LevelBasedMuxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelBasedMuxHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		fileHandler:   h.fileHandler.WithAttrs(attrs),
	}
}

func (h *LevelBasedMuxHandler) WithGroup(name string) slog.Handler {
	return &LevelBasedMuxHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		fileHandler:   h.fileHandler.WithGroup(name),
	}
}

// NewLogger открывает файл ошибок path. В production отладочные записи
// в stdout не пишутся.
func NewLogger(path, env string) (*slog.Logger, io.Closer) {
	logFile, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("не удалось открыть файл логов: %v", err)
	}

	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}

	handler := NewLevelBasedMuxHandler(os.Stdout, logFile, level)
	return slog.New(handler), logFile
}

package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production gets machine-parseable
// JSON with source locations; everything else gets readable text at debug
// level.
func NewLogger(environment string) *slog.Logger {
	var handler slog.Handler
	switch environment {
	case "production":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

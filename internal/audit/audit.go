package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types emitted by the service core.
const (
	EventURLCreated        = "url_created"
	EventURLRedirected     = "url_redirected"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventURLCreationError  = "url_creation_error"
	EventRedirectError     = "redirect_error"
)

// Event is a single security/usage event. Details carries free-form,
// event-specific fields.
type Event struct {
	Type      string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Referer   string         `json:"referer,omitempty"`
	At        time.Time      `json:"at"`
}

// Recorder receives audit events. Implementations are fire-and-forget:
// Record never blocks the request path and never returns an error to it.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Log writes audit events to the structured log.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-backed recorder
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	level := slog.LevelInfo
	switch {
	case strings.HasSuffix(e.Type, "_error"):
		level = slog.LevelError
	case e.Type == EventRateLimitExceeded:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{slog.String("event", e.Type)}
	if e.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", e.ClientID))
	}
	if e.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", e.UserAgent))
	}
	if e.Referer != "" {
		attrs = append(attrs, slog.String("referer", e.Referer))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}

	l.logger.LogAttrs(ctx, level, "audit event", attrs...)
}

// Fanout forwards every event to each of its recorders in order.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, e Event) {
	for _, r := range f {
		r.Record(ctx, e)
	}
}

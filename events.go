package goSession

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/goSession/internal/events"
	"github.com/MrEthical07/goSession/session"
)

// SessionEvent is delivered to an [EventSink] for every created, expired or deleted
// session.
type SessionEvent = events.Event

// EventSink receives session events from the engine's dispatcher goroutine.
type EventSink = events.Sink

// NoOpSink discards events.
type NoOpSink = events.NoOpSink

// ChannelSink buffers events in a channel.
type ChannelSink = events.ChannelSink

// JSONWriterSink writes events as JSON lines.
type JSONWriterSink = events.JSONWriterSink

// Event type names carried in [SessionEvent.Type].
var (
	EventSessionCreated = session.EventCreated.String()
	EventSessionExpired = session.EventExpired.String()
	EventSessionDeleted = session.EventDeleted.String()
)

func NewChannelSink(buffer int) *ChannelSink {
	return events.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return events.NewJSONWriterSink(w)
}

// LogSink logs each event at Info level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event SessionEvent) {
	s.logger.InfoContext(ctx, "session event",
		slog.String("event_type", event.Type),
		slog.String("session_id", event.SessionID),
		slog.Time("last_accessed", event.LastAccessedTime),
		slog.Int64("max_inactive_seconds", event.MaxInactiveInterval),
	)
}

// publisher feeds store events into the dispatcher.
type publisher struct {
	e *Engine
}

func (p publisher) PublishSessionEvent(ctx context.Context, typ session.EventType, s *session.Session) {
	p.e.events.Emit(ctx, events.FromSession(typ, s, p.e.now()))
}

package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// Event describes one session lifecycle change.
type Event struct {
	Timestamp           time.Time `json:"timestamp"`
	Type                string    `json:"event_type"`
	SessionID           string    `json:"session_id"`
	CreationTime        time.Time `json:"creation_time"`
	LastAccessedTime    time.Time `json:"last_accessed_time"`
	MaxInactiveInterval int64     `json:"max_inactive_interval_seconds"`
	Attributes          []string  `json:"attributes,omitempty"`

	// Session is the affected session as loaded by the listener. It is a private copy
	// and may be inspected, but saving it races with the session's owner.
	Session *session.Session `json:"-"`
}

// FromSession builds an event for typ at now.
func FromSession(typ session.EventType, s *session.Session, now time.Time) Event {
	ev := Event{
		Timestamp: now.UTC(),
		Type:      typ.String(),
	}
	if s == nil {
		return ev
	}
	ev.SessionID = s.ID()
	ev.CreationTime = s.CreationTime().UTC()
	ev.LastAccessedTime = s.LastAccessedTime().UTC()
	ev.MaxInactiveInterval = int64(s.MaxInactiveInterval() / time.Second)
	ev.Attributes = s.Names()
	ev.Session = s
	return ev
}

// Sink receives emitted session events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops session events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes session events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	keyeventDelPattern     = "__keyevent@*__:del"
	keyeventExpiredPattern = "__keyevent@*__:expired"
)

// ExpiryListener translates backing-store notifications into session events. It is
// the only consumer of pushed notifications and writes nothing besides the
// best-effort active-set cleanup.
type ExpiryListener struct {
	store *Store
	sub   Subscription
}

// Listen subscribes to the session-created channel and the keyspace del/expired
// patterns. A subscription failure is returned so startup can abort.
func (s *Store) Listen(ctx context.Context) (*ExpiryListener, error) {
	sub, err := s.client.Subscribe(ctx,
		[]string{s.createdTopic},
		[]string{keyeventDelPattern, keyeventExpiredPattern},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", ErrStoreUnavailable, err)
	}
	return &ExpiryListener{store: s, sub: sub}, nil
}

// Run handles messages until ctx is done or the subscription closes.
func (l *ExpiryListener) Run(ctx context.Context) {
	msgs := l.sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			l.Handle(ctx, msg)
		}
	}
}

// Close releases the subscription.
func (l *ExpiryListener) Close() error {
	return l.sub.Close()
}

// Handle processes a single notification.
func (l *ExpiryListener) Handle(ctx context.Context, msg Message) {
	st := l.store

	if msg.Pattern == "" && msg.Channel == st.createdTopic {
		id, err := st.cs.decode(msg.Payload)
		if err != nil {
			return
		}
		if sess, ok := st.findSession(ctx, id, false); ok {
			st.recorder.Inc(CounterEventCreated)
			st.publisher.PublishSessionEvent(ctx, EventCreated, sess)
		}
		return
	}

	var typ EventType
	switch {
	case strings.HasSuffix(msg.Channel, ":expired"):
		typ = EventExpired
	case strings.HasSuffix(msg.Channel, ":del"):
		typ = EventDeleted
	default:
		return
	}

	key, err := st.cs.decode(msg.Payload)
	if err != nil {
		return
	}
	id, ok := strings.CutPrefix(key, st.expiryPrefix)
	if !ok || id == "" {
		return
	}

	if err := st.client.ZRem(ctx, st.activeKey, id); err != nil {
		st.bestEffortFailed("remove from active sessions", id, err)
	}

	sess, found := st.findSession(ctx, id, true)
	if !found {
		st.logger.DebugContext(ctx, "notification for unknown session", slog.String("session_id", id), slog.String("event", typ.String()))
		return
	}

	if typ == EventExpired {
		st.recorder.Inc(CounterEventExpired)
	} else {
		st.recorder.Inc(CounterEventDeleted)
	}
	st.publisher.PublishSessionEvent(ctx, typ, sess)
}

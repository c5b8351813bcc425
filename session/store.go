package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultNamespace prefixes every key the store touches.
	DefaultNamespace = "micronaut:session:"
	// DefaultMaxInactiveInterval is the idle timeout given to new sessions.
	DefaultMaxInactiveInterval = 30 * time.Minute
	// ExpiryGracePeriod is how long the session hash outlives its expiry marker, so an
	// expired session can still be loaded when its expiry notification is handled.
	ExpiryGracePeriod = 5 * time.Minute
)

var (
	// ErrStoreUnavailable wraps backing-store failures during save and delete.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSerialization wraps attribute encoding failures during save.
	ErrSerialization = errors.New("session serialization failed")
	// ErrNilClient is returned by [NewStore] without a client.
	ErrNilClient = errors.New("session store client is nil")
)

// EventType identifies a session lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota + 1
	EventExpired
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "session.created"
	case EventExpired:
		return "session.expired"
	case EventDeleted:
		return "session.deleted"
	default:
		return "session.unknown"
	}
}

// Publisher receives session lifecycle events. Implementations must not block for
// long; the listener calls them inline.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, typ EventType, s *Session)
}

// Counter names an outcome reported to a [Recorder].
type Counter uint8

const (
	CounterSaved Counter = iota
	CounterSaveSkipped
	CounterSaveFailed
	CounterFound
	CounterNotFound
	CounterFindFailed
	CounterDeleted
	CounterCreatedPublished
	CounterBestEffortFailed
	CounterEventCreated
	CounterEventExpired
	CounterEventDeleted
	CounterSweepRun
	CounterSweepTouched
	CounterCount
)

// Recorder receives store metrics.
type Recorder interface {
	Inc(c Counter)
	// ObserveSave reports the duration of a save and its outcome.
	ObserveSave(d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) Inc(Counter)                      {}
func (nopRecorder) ObserveSave(time.Duration, error) {}

type nopPublisher struct{}

func (nopPublisher) PublishSessionEvent(context.Context, EventType, *Session) {}

// Options configures a [Store]. Zero values select the defaults.
type Options struct {
	Namespace           string
	MaxInactiveInterval time.Duration
	Charset             string
	Serializer          ValueSerializer
	WriteMode           WriteMode
	Publisher           Publisher
	Recorder            Recorder
	Logger              *slog.Logger
	IDGenerator         func() string
	Now                 func() time.Time
}

// Store persists sessions in a Redis-compatible backing store.
type Store struct {
	client          Client
	namespace       string
	cs              charset
	defaultInterval time.Duration
	serializer      ValueSerializer
	policy          writePolicy
	publisher       Publisher
	recorder        Recorder
	logger          *slog.Logger
	newID           func() string
	now             func() time.Time

	activeKey    string
	createdTopic string
	expiryPrefix string

	writes *writeQueue
}

// NewStore builds a store over client.
func NewStore(client Client, opts Options) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	cs, err := newCharset(opts.Charset)
	if err != nil {
		return nil, err
	}

	s := &Store{
		client:          client,
		namespace:       opts.Namespace,
		cs:              cs,
		defaultInterval: opts.MaxInactiveInterval,
		serializer:      opts.Serializer,
		publisher:       opts.Publisher,
		recorder:        opts.Recorder,
		logger:          opts.Logger,
		newID:           opts.IDGenerator,
		now:             opts.Now,
		writes:          newWriteQueue(),
	}
	if s.namespace == "" {
		s.namespace = DefaultNamespace
	}
	if s.defaultInterval <= 0 {
		s.defaultInterval = DefaultMaxInactiveInterval
	}
	if s.serializer == nil {
		s.serializer = JSONSerializer{}
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.policy = policyFor(opts.WriteMode, s)

	if s.activeKey, err = cs.encode(s.namespace + "active-sessions"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCharset, err)
	}
	if s.createdTopic, err = cs.encode(s.namespace + "event:session-created"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCharset, err)
	}
	s.expiryPrefix = s.namespace + "expiry:"

	return s, nil
}

// Namespace returns the key prefix.
func (s *Store) Namespace() string { return s.namespace }

func (s *Store) sessionKey(id string) (string, error) {
	return s.cs.encode(s.namespace + "sessions:" + id)
}

func (s *Store) expiryKey(id string) (string, error) {
	return s.cs.encode(s.expiryPrefix + id)
}

func (s *Store) encodeAll(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		enc, err := s.cs.encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// NewSession returns an unsaved session with a fresh id and the default idle timeout.
// It does not touch the backing store.
func (s *Store) NewSession() *Session {
	return newSession(s.newID(), s.now(), s.defaultInterval, s.serializer, s.policy)
}

// FindSession loads a live session. Missing, expired, and unreadable sessions are all
// reported as not found; read failures are logged.
func (s *Store) FindSession(ctx context.Context, id string) (*Session, bool) {
	return s.findSession(ctx, id, false)
}

func (s *Store) findSession(ctx context.Context, id string, allowExpired bool) (*Session, bool) {
	key, err := s.sessionKey(id)
	if err != nil {
		s.recorder.Inc(CounterFindFailed)
		s.logger.WarnContext(ctx, "session key encoding failed", slog.String("session_id", id), slog.Any("error", err))
		return nil, false
	}

	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		s.recorder.Inc(CounterFindFailed)
		s.logger.WarnContext(ctx, "session read failed", slog.String("session_id", id), slog.Any("error", err))
		return nil, false
	}
	if len(data) == 0 {
		s.recorder.Inc(CounterNotFound)
		return nil, false
	}

	rec := make(record, len(data))
	for field, value := range data {
		name, err := s.cs.decode(field)
		if err != nil {
			continue
		}
		rec[name] = value
	}

	now := s.now()
	sess := decodeRecord(id, rec, now, s.defaultInterval, s.serializer, s.policy)
	if !allowExpired && sess.expiredAt(now) {
		s.recorder.Inc(CounterNotFound)
		return nil, false
	}

	s.recorder.Inc(CounterFound)
	return sess, true
}

// Save persists the session's delta. A session without changes causes no store
// round-trip. A zero idle timeout deletes the expiry marker instead of renewing TTLs.
//
// The commands are issued independently; a failure part-way through can leave stale
// TTLs or an active-set entry behind.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	start := time.Now()
	err := s.save(ctx, sess)
	s.recorder.ObserveSave(time.Since(start), err)
	if err != nil {
		s.recorder.Inc(CounterSaveFailed)
		return err
	}
	return nil
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	delta, err := sess.Delta()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if len(delta) == 0 {
		s.recorder.Inc(CounterSaveSkipped)
		return nil
	}
	if sess.IsNew() && sess.MaxInactiveInterval() <= 0 {
		// Never persisted and already dead: there is nothing to write or expire.
		sess.markSaved()
		s.recorder.Inc(CounterSaveSkipped)
		return nil
	}

	id := sess.ID()
	s.writes.flush(id)

	sessionKey, err := s.sessionKey(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	expiryKey, err := s.expiryKey(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	fields := make(map[string][]byte, len(delta))
	for field, value := range delta {
		enc, err := s.cs.encode(field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		fields[enc] = value
	}

	if removed := sess.removedNames(); len(removed) > 0 {
		names := make([]string, 0, len(removed))
		for _, name := range removed {
			names = append(names, attributeField(name))
		}
		encoded, err := s.encodeAll(names)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		if err := s.client.HDel(ctx, sessionKey, encoded...); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if err := s.client.HSetAll(ctx, sessionKey, fields); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	interval := sess.MaxInactiveInterval()
	if interval <= 0 {
		if err := s.client.Del(ctx, expiryKey); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		sess.markSaved()
		s.recorder.Inc(CounterSaved)
		return nil
	}

	expiresAt := s.now().Add(interval)
	seconds := strconv.FormatInt(int64(interval/time.Second), 10)

	var g errgroup.Group
	g.Go(func() error {
		return s.client.Expire(ctx, sessionKey, interval+ExpiryGracePeriod)
	})
	g.Go(func() error {
		return s.client.SetEx(ctx, expiryKey, []byte(seconds), interval)
	})
	g.Go(func() error {
		return s.client.ZAdd(ctx, s.activeKey, float64(expiresAt.UnixMilli()), id)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if sess.IsNew() {
		if err := s.client.Publish(ctx, s.createdTopic, id); err != nil {
			s.bestEffortFailed("publish session created", id, err)
		} else {
			s.recorder.Inc(CounterCreatedPublished)
		}
	}
	sess.markSaved()
	s.recorder.Inc(CounterSaved)
	return nil
}

// DeleteSession expires the session immediately by saving it with a zero idle timeout.
// It reports whether a session (live or recently expired) existed.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	sess, ok := s.findSession(ctx, id, true)
	if !ok {
		return false, nil
	}
	sess.SetMaxInactiveInterval(0)
	if err := s.Save(ctx, sess); err != nil {
		return false, err
	}
	s.recorder.Inc(CounterDeleted)
	return true, nil
}

// EnableKeyspaceEvents asks the server to publish generic and expiry keyspace events.
// Servers that refuse CONFIG SET are tolerated; the failure is only logged.
func (s *Store) EnableKeyspaceEvents(ctx context.Context) {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Egx"); err != nil {
		s.bestEffortFailed("enable keyspace notifications", "", err)
	}
}

// Close waits for queued background writes.
func (s *Store) Close() {
	s.writes.wait()
}

func (s *Store) bestEffortFailed(op, id string, err error) {
	s.recorder.Inc(CounterBestEffortFailed)
	attrs := []any{slog.String("op", op), slog.Any("error", err)}
	if id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	s.logger.Warn("best-effort session operation failed", attrs...)
}

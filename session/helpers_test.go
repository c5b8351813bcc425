package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testNamespace = "test:session:"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type publishedEvent struct {
	typ EventType
	id  string
}

type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	ch     chan publishedEvent
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan publishedEvent, 16)}
}

func (p *capturePublisher) PublishSessionEvent(_ context.Context, typ EventType, s *Session) {
	ev := publishedEvent{typ: typ, id: s.ID()}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	select {
	case p.ch <- ev:
	default:
	}
}

func (p *capturePublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) wait(t *testing.T, typ EventType) publishedEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.ch:
			if ev.typ == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return publishedEvent{}
		}
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	counts   [CounterCount]int
	saves    int
	failures int
}

func (r *countingRecorder) Inc(c Counter) {
	r.mu.Lock()
	r.counts[c]++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveSave(_ time.Duration, err error) {
	r.mu.Lock()
	if err != nil {
		r.failures++
	} else {
		r.saves++
	}
	r.mu.Unlock()
}

func (r *countingRecorder) Count(c Counter) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[c]
}

// call is one command seen by recordingClient.
type call struct {
	op   string
	args []string
}

// recordingClient forwards to an inner Client and records every command name.
type recordingClient struct {
	Client

	mu    sync.Mutex
	calls []call
}

func (c *recordingClient) record(op string, args ...string) {
	c.mu.Lock()
	c.calls = append(c.calls, call{op: op, args: args})
	c.mu.Unlock()
}

func (c *recordingClient) Calls() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]call, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *recordingClient) Reset() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

func (c *recordingClient) ops(op string) []call {
	var out []call
	for _, cl := range c.Calls() {
		if cl.op == op {
			out = append(out, cl)
		}
	}
	return out
}

func (c *recordingClient) HSetAll(ctx context.Context, key string, fields map[string][]byte) error {
	c.record("HSETALL", key)
	return c.Client.HSetAll(ctx, key, fields)
}

func (c *recordingClient) HSet(ctx context.Context, key, field string, value []byte) error {
	c.record("HSET", key, field)
	return c.Client.HSet(ctx, key, field, value)
}

func (c *recordingClient) HDel(ctx context.Context, key string, fields ...string) error {
	c.record("HDEL", append([]string{key}, fields...)...)
	return c.Client.HDel(ctx, key, fields...)
}

func (c *recordingClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.record("HGETALL", key)
	return c.Client.HGetAll(ctx, key)
}

func (c *recordingClient) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.record("SETEX", key)
	return c.Client.SetEx(ctx, key, value, ttl)
}

func (c *recordingClient) Del(ctx context.Context, keys ...string) error {
	c.record("DEL", keys...)
	return c.Client.Del(ctx, keys...)
}

func (c *recordingClient) ZRem(ctx context.Context, key, member string) error {
	c.record("ZREM", key, member)
	return c.Client.ZRem(ctx, key, member)
}

func (c *recordingClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.record("GET", key)
	return c.Client.Get(ctx, key)
}

func (c *recordingClient) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	c.record("ZRANGEBYSCORE", key)
	return c.Client.ZRangeByScore(ctx, key, min, max)
}

func (c *recordingClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	c.record("ZADD", key, member)
	return c.Client.ZAdd(ctx, key, score, member)
}

func (c *recordingClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.record("EXPIRE", key)
	return c.Client.Expire(ctx, key, ttl)
}

func (c *recordingClient) Publish(ctx context.Context, channel, message string) error {
	c.record("PUBLISH", channel, message)
	return c.Client.Publish(ctx, channel, message)
}

type storeFixture struct {
	store    *Store
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	client   *recordingClient
	clock    *testClock
	events   *capturePublisher
	recorder *countingRecorder
}

func newStoreFixture(t *testing.T, opts Options) *storeFixture {
	t.Helper()
	return newWrappedStoreFixture(t, opts, nil)
}

// newWrappedStoreFixture is newStoreFixture with the store's client wrapped by wrap,
// which sits in front of the recording client.
func newWrappedStoreFixture(t *testing.T, opts Options, wrap func(Client) Client) *storeFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	f := &storeFixture{
		mr:       mr,
		rdb:      rdb,
		client:   &recordingClient{Client: NewRedisClient(rdb)},
		clock:    newTestClock(),
		events:   newCapturePublisher(),
		recorder: &countingRecorder{},
	}
	if opts.Namespace == "" {
		opts.Namespace = testNamespace
	}
	opts.Now = f.clock.Now
	opts.Publisher = f.events
	opts.Recorder = f.recorder

	var client Client = f.client
	if wrap != nil {
		client = wrap(client)
	}
	f.store, err = NewStore(client, opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(f.store.Close)
	return f
}

// saved creates, populates and saves a session with the given id.
func (f *storeFixture) saved(t *testing.T, id string, interval time.Duration, attrs map[string]any) *Session {
	t.Helper()
	sess := newSession(id, f.clock.Now(), interval, f.store.serializer, f.store.policy)
	for k, v := range attrs {
		sess.Put(k, v)
	}
	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save %s: %v", id, err)
	}
	return sess
}

var errInjected = errors.New("injected failure")

// delayingClient holds back HSET writes of one value.
type delayingClient struct {
	Client
	value []byte
	delay time.Duration
}

func (c delayingClient) HSet(ctx context.Context, key, field string, value []byte) error {
	if string(value) == string(c.value) {
		time.Sleep(c.delay)
	}
	return c.Client.HSet(ctx, key, field, value)
}

type failingPublishClient struct{ Client }

func (failingPublishClient) Publish(context.Context, string, string) error { return errInjected }

type failingZRemClient struct{ Client }

func (failingZRemClient) ZRem(context.Context, string, string) error { return errInjected }

package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewStoreRequiresClient(t *testing.T) {
	if _, err := NewStore(nil, Options{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestNewStoreRejectsUnknownCharset(t *testing.T) {
	f := newStoreFixture(t, Options{})
	if _, err := NewStore(f.client, Options{Charset: "no-such-charset"}); !errors.Is(err, ErrUnknownCharset) {
		t.Fatalf("expected ErrUnknownCharset, got %v", err)
	}
}

func TestNewStoreDefaults(t *testing.T) {
	f := newStoreFixture(t, Options{})
	st, err := NewStore(f.client, Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if st.Namespace() != DefaultNamespace {
		t.Fatalf("expected default namespace, got %q", st.Namespace())
	}
	sess := st.NewSession()
	if sess.MaxInactiveInterval() != DefaultMaxInactiveInterval {
		t.Fatalf("expected default interval, got %v", sess.MaxInactiveInterval())
	}
	if len(sess.ID()) != 36 {
		t.Fatalf("expected uuid id, got %q", sess.ID())
	}
	if !sess.IsNew() {
		t.Fatal("expected new session")
	}
}

func TestSaveThenFind(t *testing.T) {
	f := newStoreFixture(t, Options{})
	ctx := context.Background()
	f.saved(t, "s1", 60*time.Second, map[string]any{"x": "1"})

	got, ok := f.store.FindSession(ctx, "s1")
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.IsNew() {
		t.Fatal("loaded session must not be new")
	}
	x, ok := got.Get("x")
	if !ok || x != "1" {
		t.Fatalf("expected x=1, got %v (%v)", x, ok)
	}
	if got.MaxInactiveInterval() != 60*time.Second {
		t.Fatalf("unexpected interval %v", got.MaxInactiveInterval())
	}
	if f.recorder.Count(CounterFound) != 1 {
		t.Fatalf("expected found counter 1, got %d", f.recorder.Count(CounterFound))
	}
}

func TestSaveWritesWireLayout(t *testing.T) {
	f := newStoreFixture(t, Options{})
	now := f.clock.Now()
	f.saved(t, "s1", 60*time.Second, map[string]any{"x": "1"})

	sessionKey := testNamespace + "sessions:s1"
	expiryKey := testNamespace + "expiry:s1"
	activeKey := testNamespace + "active-sessions"

	if got := f.mr.HGet(sessionKey, "attr:x"); got != `"1"` {
		t.Fatalf("unexpected attr field %q", got)
	}
	if got := f.mr.HGet(sessionKey, fieldMaxInactive); got != "60" {
		t.Fatalf("unexpected interval field %q", got)
	}
	if got := f.mr.HGet(sessionKey, fieldCreationTime); got != "1700000000000" {
		t.Fatalf("unexpected creation field %q", got)
	}
	if ttl := f.mr.TTL(sessionKey); ttl != 60*time.Second+ExpiryGracePeriod {
		t.Fatalf("unexpected session ttl %v", ttl)
	}
	if ttl := f.mr.TTL(expiryKey); ttl != 60*time.Second {
		t.Fatalf("unexpected expiry ttl %v", ttl)
	}
	if v, err := f.mr.Get(expiryKey); err != nil || v != "60" {
		t.Fatalf("unexpected expiry value %q (%v)", v, err)
	}
	score, err := f.rdb.ZScore(context.Background(), activeKey, "s1").Result()
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	if int64(score) != now.Add(60*time.Second).UnixMilli() {
		t.Fatalf("unexpected active score %v", score)
	}
}

func TestSaveNewSessionPublishesCreated(t *testing.T) {
	f := newStoreFixture(t, Options{})
	sess := f.saved(t, "s1", time.Minute, nil)

	pubs := f.client.ops("PUBLISH")
	if len(pubs) != 1 {
		t.Fatalf("expected one publish, got %d", len(pubs))
	}
	if pubs[0].args[0] != testNamespace+"event:session-created" || pubs[0].args[1] != "s1" {
		t.Fatalf("unexpected publish %v", pubs[0].args)
	}

	sess.Put("y", 2)
	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if len(f.client.ops("PUBLISH")) != 1 {
		t.Fatal("existing session must not publish created again")
	}
}

func TestSaveWithoutChangesSkipsStore(t *testing.T) {
	f := newStoreFixture(t, Options{})
	sess := f.saved(t, "s1", time.Minute, map[string]any{"x": "1"})
	f.client.Reset()

	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if calls := f.client.Calls(); len(calls) != 0 {
		t.Fatalf("expected no store calls, got %v", calls)
	}
	if f.recorder.Count(CounterSaveSkipped) != 1 {
		t.Fatal("expected skipped save to be counted")
	}
}

func TestSaveDeletesRemovedAttributes(t *testing.T) {
	f := newStoreFixture(t, Options{})
	ctx := context.Background()
	f.saved(t, "s1", time.Minute, map[string]any{"x": "1", "y": "2"})

	sess, ok := f.store.FindSession(ctx, "s1")
	if !ok {
		t.Fatal("expected session")
	}
	sess.Remove("x")
	if err := f.store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	if f.mr.HGet(testNamespace+"sessions:s1", "attr:x") != "" {
		t.Fatal("removed attribute still stored")
	}
	if f.mr.HGet(testNamespace+"sessions:s1", "attr:y") != `"2"` {
		t.Fatal("untouched attribute lost")
	}
}

func TestSaveZeroIntervalDeletesExpiryWithoutRenewingTTL(t *testing.T) {
	f := newStoreFixture(t, Options{})
	ctx := context.Background()
	sess := f.saved(t, "s1", time.Minute, map[string]any{"x": "1"})
	f.client.Reset()

	sess.SetMaxInactiveInterval(0)
	if err := f.store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	if f.mr.Exists(testNamespace + "expiry:s1") {
		t.Fatal("expiry marker should be deleted")
	}
	for _, op := range []string{"EXPIRE", "SETEX", "ZADD", "PUBLISH"} {
		if n := len(f.client.ops(op)); n != 0 {
			t.Fatalf("expected no %s after zero interval save, got %d", op, n)
		}
	}
	if dels := f.client.ops("DEL"); len(dels) != 1 || dels[0].args[0] != testNamespace+"expiry:s1" {
		t.Fatalf("unexpected deletes %v", dels)
	}
}

func TestSaveNewSessionPublishFailureIsBestEffort(t *testing.T) {
	f := newWrappedStoreFixture(t, Options{}, func(c Client) Client {
		return failingPublishClient{Client: c}
	})
	sess := f.store.NewSession()
	sess.Put("x", "1")

	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save must tolerate a failed publish: %v", err)
	}
	if f.recorder.Count(CounterBestEffortFailed) != 1 {
		t.Fatalf("expected one best-effort failure, got %d", f.recorder.Count(CounterBestEffortFailed))
	}
	if f.recorder.Count(CounterCreatedPublished) != 0 {
		t.Fatal("failed publish counted as published")
	}
	if sess.IsNew() {
		t.Fatal("session still new after save")
	}
	delta, err := sess.Delta()
	if err != nil || len(delta) != 0 {
		t.Fatalf("expected dirty tracking cleared, got %v %v", delta, err)
	}
	if !f.mr.Exists(testNamespace + "sessions:" + sess.ID()) {
		t.Fatal("session hash not written")
	}
}

func TestSaveNewSessionWithZeroIntervalWritesNothing(t *testing.T) {
	f := newStoreFixture(t, Options{})
	sess := f.store.NewSession()
	sess.Put("x", "1")
	sess.SetMaxInactiveInterval(0)

	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if calls := f.client.Calls(); len(calls) != 0 {
		t.Fatalf("expected no store calls, got %v", calls)
	}
	if f.mr.Exists(testNamespace + "sessions:" + sess.ID()) {
		t.Fatal("dead session left a hash without ttl")
	}
	if sess.IsNew() {
		t.Fatal("session still new after save")
	}
	if f.recorder.Count(CounterSaveSkipped) != 1 {
		t.Fatal("expected skipped save to be counted")
	}
}

func TestFindSessionExpired(t *testing.T) {
	f := newStoreFixture(t, Options{})
	ctx := context.Background()
	f.saved(t, "s1", time.Minute, nil)

	f.clock.Advance(2 * time.Minute)
	if _, ok := f.store.FindSession(ctx, "s1"); ok {
		t.Fatal("expired session must not be found")
	}
	if _, ok := f.store.findSession(ctx, "s1", true); !ok {
		t.Fatal("allow-expired lookup should still find the session")
	}
}

func TestFindSessionMissing(t *testing.T) {
	f := newStoreFixture(t, Options{})
	if _, ok := f.store.FindSession(context.Background(), "nope"); ok {
		t.Fatal("expected not found")
	}
	if f.recorder.Count(CounterNotFound) != 1 {
		t.Fatal("expected not-found counter")
	}
}

func TestFindSessionStoreFailureIsNotFound(t *testing.T) {
	f := newStoreFixture(t, Options{})
	f.saved(t, "s1", time.Minute, nil)
	f.mr.Close()

	if _, ok := f.store.FindSession(context.Background(), "s1"); ok {
		t.Fatal("expected not found on store failure")
	}
	if f.recorder.Count(CounterFindFailed) != 1 {
		t.Fatal("expected find failure to be counted")
	}
}

func TestDeleteSessionExisting(t *testing.T) {
	f := newStoreFixture(t, Options{})
	ctx := context.Background()
	f.saved(t, "s1", time.Minute, map[string]any{"x": "1"})

	deleted, err := f.store.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report true")
	}
	if _, ok := f.store.FindSession(ctx, "s1"); ok {
		t.Fatal("deleted session must not be found")
	}
	if f.mr.Exists(testNamespace + "expiry:s1") {
		t.Fatal("expiry marker should be gone")
	}
}

func TestDeleteSessionMissing(t *testing.T) {
	f := newStoreFixture(t, Options{})
	deleted, err := f.store.DeleteSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted {
		t.Fatal("expected false for missing session")
	}
}

func TestDeleteSessionRecentlyExpired(t *testing.T) {
	f := newStoreFixture(t, Options{})
	ctx := context.Background()
	f.saved(t, "s1", time.Minute, nil)
	f.clock.Advance(90 * time.Second)

	deleted, err := f.store.DeleteSession(ctx, "s1")
	if err != nil || !deleted {
		t.Fatalf("expected expired-but-present session to delete, got %v %v", deleted, err)
	}
}

func TestSaveStoreFailureWraps(t *testing.T) {
	f := newStoreFixture(t, Options{})
	sess := f.store.NewSession()
	sess.Put("x", "1")
	f.mr.Close()

	err := f.store.Save(context.Background(), sess)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !sess.IsNew() {
		t.Fatal("failed save must keep dirty tracking")
	}
	if f.recorder.Count(CounterSaveFailed) != 1 {
		t.Fatal("expected failed save to be counted")
	}
}

func TestSaveSerializationFailure(t *testing.T) {
	f := newStoreFixture(t, Options{})
	sess := f.store.NewSession()
	sess.Put("ch", make(chan int))

	err := f.store.Save(context.Background(), sess)
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
	if calls := f.client.Calls(); len(calls) != 0 {
		t.Fatalf("serialization failure must not reach the store, got %v", calls)
	}
}

func TestSaveWithLatin1Charset(t *testing.T) {
	f := newStoreFixture(t, Options{Charset: "ISO-8859-1", Namespace: "sess:"})
	ctx := context.Background()
	f.saved(t, "s1", time.Minute, map[string]any{"café": "noir"})

	keys, err := f.rdb.HKeys(ctx, "sess:sessions:s1").Result()
	if err != nil {
		t.Fatalf("hkeys: %v", err)
	}
	var found bool
	for _, k := range keys {
		if k == "attr:caf\xe9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected latin-1 encoded field, got %q", keys)
	}

	got, ok := f.store.FindSession(ctx, "s1")
	if !ok {
		t.Fatal("expected session")
	}
	if v, ok := got.Get("café"); !ok || v != "noir" {
		t.Fatalf("expected decoded attribute, got %v (%v)", v, ok)
	}
}

func TestEnableKeyspaceEventsIsBestEffort(t *testing.T) {
	f := newStoreFixture(t, Options{})
	f.store.EnableKeyspaceEvents(context.Background())

	f.mr.Close()
	f.store.EnableKeyspaceEvents(context.Background())
	if f.recorder.Count(CounterBestEffortFailed) < 1 {
		t.Fatal("expected failure to be recorded")
	}
}

func TestRedisClientGetMissing(t *testing.T) {
	f := newStoreFixture(t, Options{})
	data, err := f.client.Client.Get(context.Background(), "missing")
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", data, err)
	}
	if !strings.HasPrefix(f.store.activeKey, testNamespace) {
		t.Fatalf("unexpected active key %q", f.store.activeKey)
	}
	if err := f.rdb.Get(context.Background(), "missing").Err(); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the suite is running against.
type redisMode struct {
	name string
	// notifies is true when the backend emits keyspace notifications.
	notifies bool
	setup    func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name:     "standalone:" + addr,
			notifies: true,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	// Sentinel mode: when REDIS_SENTINEL_ADDRS and REDIS_SENTINEL_MASTER are set.
	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name:     "sentinel",
			notifies: true,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis sentinel: %v", err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

type integrationEngine struct {
	engine *goSession.Engine
	sink   *goSession.ChannelSink
	rdb    redis.UniversalClient
}

// newIntegrationEngine builds and starts an engine over rdb. Keyspace notifications
// are only requested from backends that support CONFIG SET.
func newIntegrationEngine(t *testing.T, mode redisMode, rdb redis.UniversalClient) *integrationEngine {
	t.Helper()

	cfg := goSession.DefaultConfig()
	cfg.Session.Namespace = "it:session:"
	cfg.Session.EnableKeyspaceEvents = mode.notifies
	cfg.Events.BufferSize = 256
	cfg.Events.DropIfFull = false
	cfg.Metrics.Enabled = true

	sink := goSession.NewChannelSink(256)
	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		engine.Close()
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(engine.Close)

	return &integrationEngine{engine: engine, sink: sink, rdb: rdb}
}

func (ie *integrationEngine) waitEvent(t *testing.T, typ, id string, timeout time.Duration) goSession.SessionEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ie.sink.Events():
			if ev.Type == typ && ev.SessionID == id {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s of %s", typ, id)
			return goSession.SessionEvent{}
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (find, update, delete)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		envFile     = flag.String("env-file", ".env", "optional dotenv file with GOSESSION_* settings")
		verbose     = flag.Bool("v", false, "log engine warnings to stderr")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := goSession.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		cfg.Session.EnableKeyspaceEvents = false
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	level := slog.LevelError
	if *verbose {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
		os.Exit(1)
	}

	ids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range ids {
		sess := engine.NewSession()
		sess.Put("user", fmt.Sprintf("user-%d", i))
		sess.Put("visits", 0)
		if err := engine.Save(ctx, sess); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = sess.ID()
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	findStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		id := ids[r.Intn(len(ids))]
		if _, ok := engine.FindSession(ctx, id); !ok {
			return errNotFound
		}
		return nil
	})

	updateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		id := ids[r.Intn(len(ids))]
		sess, ok := engine.FindSession(ctx, id)
		if !ok {
			return errNotFound
		}
		var visits int
		if _, err := sess.Decode("visits", &visits); err != nil {
			return err
		}
		sess.Put("visits", visits+1)
		sess.SetLastAccessedTime(time.Now())
		return engine.Save(ctx, sess)
	})

	var deleteCursor atomic.Int64
	deleteOps := min(*ops, len(ids))
	deleteStats := runPhase(deleteOps, *concurrency, 4271, func(*rand.Rand) error {
		id := ids[int(deleteCursor.Add(1)-1)]
		deleted, err := engine.DeleteSession(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return errNotFound
		}
		return nil
	})

	touched, err := engine.Sweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
	}

	fmt.Println("---- results ----")
	printStats("find", findStats)
	printStats("update", updateStats)
	printStats("delete", deleteStats)
	fmt.Printf("sweep: touched=%d\n", touched)

	snap := engine.MetricsSnapshot()
	fmt.Printf("saved=%d not_found=%d best_effort_failures=%d events_dropped=%d\n",
		snap.Counters[goSession.MetricSessionSaved],
		snap.Counters[goSession.MetricSessionNotFound],
		snap.Counters[goSession.MetricBestEffortFailure],
		engine.EventsDropped(),
	)
}

var errNotFound = errors.New("session not found")

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

package goSession

import (
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/internal/events"
	"github.com/MrEthical07/goSession/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	client   session.Client
	resolver ClientResolver

	eventSink   EventSink
	logger      *slog.Logger
	scheduler   session.Scheduler
	idGenerator func() string
	now         func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the go-redis client. Single-node, sentinel and cluster clients work.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClient sets a custom store client. It takes precedence over WithRedis.
func (b *Builder) WithClient(client session.Client) *Builder {
	b.client = client
	return b
}

// WithResolver resolves the client named by Config.Session.ServerName when neither
// WithClient nor WithRedis is used.
func (b *Builder) WithResolver(r ClientResolver) *Builder {
	b.resolver = r
	return b
}

func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithScheduler(s session.Scheduler) *Builder {
	b.scheduler = s
	return b
}

func (b *Builder) WithIDGenerator(fn func() string) *Builder {
	b.idGenerator = fn
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, resolves the store client and wires the engine.
// It performs no I/O; call [Engine.Start] to subscribe and schedule the sweeper.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := b.resolveClient(cfg)
	if err != nil {
		return nil, err
	}

	serializer, _ := session.SerializerByName(cfg.Session.ValueSerializer)

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	scheduler := b.scheduler
	if scheduler == nil {
		scheduler = session.TickerScheduler{}
	}

	engine := &Engine{
		config:    cfg,
		scheduler: scheduler,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       now,
	}
	engine.events = events.NewDispatcher(events.Config{
		Enabled:    cfg.Events.Enabled,
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
	}, b.eventSink)

	store, err := session.NewStore(client, session.Options{
		Namespace:           cfg.Session.Namespace,
		MaxInactiveInterval: cfg.Session.MaxInactiveInterval,
		Charset:             cfg.Session.Charset,
		Serializer:          serializer,
		WriteMode:           cfg.Session.WriteMode,
		Publisher:           publisher{e: engine},
		Recorder:            recorder{m: engine.metrics},
		Logger:              logger,
		IDGenerator:         b.idGenerator,
		Now:                 now,
	})
	if err != nil {
		engine.events.Close()
		return nil, err
	}
	engine.store = store
	engine.sweeper = session.NewSweeper(store)

	b.built = true
	return engine, nil
}

func (b *Builder) resolveClient(cfg Config) (session.Client, error) {
	switch {
	case b.client != nil:
		return b.client, nil
	case b.redis != nil:
		return session.NewRedisClient(b.redis), nil
	case b.resolver != nil:
		rdb, err := b.resolver.Resolve(cfg.Session.ServerName)
		if err != nil {
			return nil, err
		}
		return session.NewRedisClient(rdb), nil
	default:
		return nil, ErrNoStoreClient
	}
}

package goSession

import (
	"errors"
	"time"

	"github.com/MrEthical07/goSession/session"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by [ConfigFromEnv].
const EnvPrefix = "GOSESSION_"

// Config holds the engine configuration. Build one with [DefaultConfig] and adjust it;
// treat it as immutable once handed to a [Builder].
type Config struct {
	Session SessionConfig `envPrefix:"SESSION_"`
	Events  EventsConfig  `envPrefix:"EVENTS_"`
	Metrics MetricsConfig `envPrefix:"METRICS_"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the backing-store layout and session lifecycle.
type SessionConfig struct {
	// Namespace prefixes every key, channel and sorted set.
	Namespace string `env:"NAMESPACE"`
	// ServerName selects the client returned by the configured [ClientResolver].
	ServerName string `env:"SERVER_NAME"`
	// MaxInactiveInterval is the idle timeout of new sessions.
	MaxInactiveInterval time.Duration `env:"MAX_INACTIVE_INTERVAL"`
	// ValueSerializer is "json" or "raw".
	ValueSerializer string `env:"VALUE_SERIALIZER"`
	// Charset is the character set for keys and field names.
	Charset string `env:"CHARSET"`
	// EnableKeyspaceEvents issues CONFIG SET notify-keyspace-events on start.
	EnableKeyspaceEvents bool `env:"ENABLE_KEYSPACE_EVENTS"`
	// WriteMode is "batch" or "background".
	WriteMode session.WriteMode `env:"WRITE_MODE"`
	// CheckExpiredSessionsInterval is the sweeper period.
	CheckExpiredSessionsInterval time.Duration `env:"CHECK_EXPIRED_SESSIONS_INTERVAL"`
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig controls the asynchronous event dispatcher.
type EventsConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig toggles in-process counters and the save latency histogram.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the defaults documented on each field.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Namespace:                    session.DefaultNamespace,
			MaxInactiveInterval:          session.DefaultMaxInactiveInterval,
			ValueSerializer:              "json",
			Charset:                      "UTF-8",
			EnableKeyspaceEvents:         true,
			WriteMode:                    session.WriteModeBatch,
			CheckExpiredSessionsInterval: session.DefaultSweepInterval,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// ConfigFromEnv overlays GOSESSION_* environment variables on [DefaultConfig] and
// validates the result. Unset variables keep their defaults.
func ConfigFromEnv() (Config, error) {
	return configFromEnv(env.Options{Prefix: EnvPrefix})
}

func configFromEnv(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.Namespace == "" {
		return errors.New("Session Namespace must not be empty")
	}
	if c.Session.MaxInactiveInterval <= 0 {
		return errors.New("Session MaxInactiveInterval must be > 0")
	}
	if c.Session.MaxInactiveInterval%time.Second != 0 {
		return errors.New("Session MaxInactiveInterval must be a whole number of seconds")
	}
	if _, ok := session.SerializerByName(c.Session.ValueSerializer); !ok {
		return errors.New("Session ValueSerializer must be 'json' or 'raw'")
	}
	if err := session.CheckCharset(c.Session.Charset); err != nil {
		return err
	}
	switch c.Session.WriteMode {
	case session.WriteModeBatch, session.WriteModeBackground:
	default:
		return errors.New("Session WriteMode is invalid")
	}
	if c.Session.CheckExpiredSessionsInterval <= 0 {
		return errors.New("Session CheckExpiredSessionsInterval must be > 0")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when Events are enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}

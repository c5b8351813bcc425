package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the set of backing-store primitives the session store relies on. Every
// call is independent; the store never assumes atomicity across calls.
type Client interface {
	HSetAll(ctx context.Context, key string, fields map[string][]byte) error
	HSet(ctx context.Context, key, field string, value []byte) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ZRem(ctx context.Context, key, member string) error
	// Get returns (nil, nil) when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Publish(ctx context.Context, channel, message string) error
	ConfigSet(ctx context.Context, parameter, value string) error
	Subscribe(ctx context.Context, channels, patterns []string) (Subscription, error)
}

// Message is a pub/sub delivery. Pattern is empty for plain channel subscriptions.
type Message struct {
	Channel string
	Pattern string
	Payload string
}

// Subscription streams pub/sub messages until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// RedisClient implements [Client] over a go-redis client. It works with single-node,
// sentinel and cluster clients alike.
type RedisClient struct {
	rdb redis.UniversalClient
}

// NewRedisClient wraps a go-redis client.
func NewRedisClient(rdb redis.UniversalClient) *RedisClient {
	return &RedisClient{rdb: rdb}
}

func (c *RedisClient) HSetAll(ctx context.Context, key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return c.rdb.HSet(ctx, key, values).Err()
}

func (c *RedisClient) HSet(ctx context.Context, key, field string, value []byte) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

func (c *RedisClient) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.rdb.HDel(ctx, key, fields...).Err()
}

func (c *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *RedisClient) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *RedisClient) ZRem(ctx context.Context, key, member string) error {
	return c.rdb.ZRem(ctx, key, member).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (c *RedisClient) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}

func (c *RedisClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *RedisClient) Publish(ctx context.Context, channel, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

func (c *RedisClient) ConfigSet(ctx context.Context, parameter, value string) error {
	return c.rdb.ConfigSet(ctx, parameter, value).Err()
}

// Subscribe opens one connection subscribed to channels and patterns and waits for
// the server to confirm every subscription before returning.
func (c *RedisClient) Subscribe(ctx context.Context, channels, patterns []string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx)
	if len(channels) > 0 {
		if err := ps.Subscribe(ctx, channels...); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}
	if len(patterns) > 0 {
		if err := ps.PSubscribe(ctx, patterns...); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}

	var pending []Message
	for confirmed := 0; confirmed < len(channels)+len(patterns); {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			confirmed++
		case *redis.Message:
			pending = append(pending, Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload})
		}
	}

	sub := &redisSubscription{
		ps:  ps,
		out: make(chan Message, 64),
	}
	sub.wg.Add(1)
	go sub.forward(pending)
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan Message
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) forward(pending []Message) {
	defer s.wg.Done()
	defer close(s.out)

	for _, m := range pending {
		s.out <- m
	}
	for m := range s.ps.Channel() {
		s.out <- Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

// Close closes the connection. Messages still buffered are dropped once the reader
// stops consuming.
func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ps.Close()
		go func() {
			for range s.out {
			}
		}()
		s.wg.Wait()
	})
	return s.closeErr
}

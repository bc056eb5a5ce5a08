package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/pricefeed/internal/model"
)

// ErrNotFound is returned by Latest when no value is mirrored for a symbol.
var ErrNotFound = errors.New("no mirrored price")

// RedisConfig holds Redis mirror settings.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TTL           time.Duration // Expiry of the latest-value key; 0 keeps it forever
	KeyPrefix     string        // e.g. "price:"
	ChannelPrefix string        // e.g. "prices:"
}

// RedisPublisher stores the latest update per symbol and publishes every
// update on a per-symbol channel.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &RedisPublisher{client: client, cfg: cfg}, nil
}

// Key returns the latest-value key for symbol.
func (p *RedisPublisher) Key(symbol string) string { return p.cfg.KeyPrefix + symbol }

// Channel returns the pub/sub channel for symbol.
func (p *RedisPublisher) Channel(symbol string) string { return p.cfg.ChannelPrefix + symbol }

// Publish writes the latest value and fans it out in one round trip.
func (p *RedisPublisher) Publish(ctx context.Context, u model.Update) error {
	body, err := encode(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	sym := u.Sample.Symbol
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.Key(sym), body, p.cfg.TTL)
		pipe.Publish(ctx, p.Channel(sym), body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", sym, err)
	}
	return nil
}

// Latest reads back the mirrored value for symbol.
func (p *RedisPublisher) Latest(ctx context.Context, symbol string) (Message, error) {
	raw, err := p.client.Get(ctx, p.Key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode mirrored %s: %w", symbol, err)
	}
	return msg, nil
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

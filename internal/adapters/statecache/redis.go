// Package statecache publica los posteriors del bandit en Redis para que
// procesos hermanos arranquen en caliente.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/alejandrodnm/revcore/internal/bandit"
)

const (
	defaultPrefix = "revcore:"
	posteriorsKey = "bandit:posteriors"
	defaultTTL    = 24 * time.Hour
)

// Config configura la conexión y las claves.
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"` // default "revcore:"
	TTL      time.Duration `yaml:"ttl"`    // default 24h
}

// RedisCache implementa ports.StateCache.
type RedisCache struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// Dial abre un cliente Redis y verifica la conexión.
func Dial(ctx context.Context, cfg Config) (*RedisCache, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("statecache.Dial: ping %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg), rdb, nil
}

// New envuelve un cliente existente (real o redismock).
func New(client redis.Cmdable, cfg Config) *RedisCache {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &RedisCache{client: client, key: cfg.Prefix + posteriorsKey, ttl: cfg.TTL}
}

// Key devuelve la clave donde se publican los posteriors.
func (c *RedisCache) Key() string { return c.key }

// PublishPosteriors sobrescribe el snapshot publicado.
func (c *RedisCache) PublishPosteriors(ctx context.Context, states []bandit.ArmState) error {
	payload, err := msgpack.Marshal(states)
	if err != nil {
		return fmt.Errorf("statecache.PublishPosteriors: encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("statecache.PublishPosteriors: set: %w", err)
	}
	return nil
}

// LoadPosteriors devuelve el snapshot publicado, o nil, nil si no existe.
func (c *RedisCache) LoadPosteriors(ctx context.Context) ([]bandit.ArmState, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statecache.LoadPosteriors: get: %w", err)
	}

	var states []bandit.ArmState
	if err := msgpack.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("statecache.LoadPosteriors: decode: %w", err)
	}
	return states, nil
}

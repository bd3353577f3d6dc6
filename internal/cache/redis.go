// Package cache publishes hot state (latest marks, signals and the
// portfolio) to Redis for dashboards and other processes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	MarkTTL   time.Duration `yaml:"mark_ttl"`
	SignalTTL time.Duration `yaml:"signal_ttl"`
}

// DefaultConfig returns local defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		Prefix:    "fusionrun:",
		MarkTTL:   5 * time.Minute,
		SignalTTL: 10 * time.Minute,
	}
}

// SignalChannel is the pub/sub channel fused signals are published on.
const SignalChannel = "signals"

// RedisCache writes hot state to Redis.
type RedisCache struct {
	client *redis.Client
	cfg    Config
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewWithClient(rdb, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config) *RedisCache {
	return &RedisCache{client: client, cfg: cfg}
}

func (r *RedisCache) key(parts ...string) string {
	k := r.cfg.Prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// SetMark stores the latest price of instrument.
func (r *RedisCache) SetMark(ctx context.Context, instrument string, price float64) error {
	value := strconv.FormatFloat(price, 'f', -1, 64)
	if err := r.client.Set(ctx, r.key("mark", instrument), value, r.cfg.MarkTTL).Err(); err != nil {
		return fmt.Errorf("redis set mark: %w", err)
	}
	return nil
}

// Mark returns the cached price of instrument.
func (r *RedisCache) Mark(ctx context.Context, instrument string) (float64, bool, error) {
	val, err := r.client.Get(ctx, r.key("mark", instrument)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get mark: %w", err)
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis mark %s: %w", instrument, err)
	}
	return price, true, nil
}

// PublishSignal stores sig as the latest signal of its instrument and
// publishes it on the signal channel.
func (r *RedisCache) PublishSignal(ctx context.Context, sig fusion.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	payload := string(data)

	if err := r.client.Set(ctx, r.key("signal", sig.Instrument), payload, r.cfg.SignalTTL).Err(); err != nil {
		return fmt.Errorf("redis set signal: %w", err)
	}
	if err := r.client.Publish(ctx, r.key(SignalChannel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish signal: %w", err)
	}
	return nil
}

// LatestSignal returns the last published signal of instrument.
func (r *RedisCache) LatestSignal(ctx context.Context, instrument string) (fusion.Signal, bool, error) {
	val, err := r.client.Get(ctx, r.key("signal", instrument)).Result()
	if err == redis.Nil {
		return fusion.Signal{}, false, nil
	}
	if err != nil {
		return fusion.Signal{}, false, fmt.Errorf("redis get signal: %w", err)
	}
	var sig fusion.Signal
	if err := json.Unmarshal([]byte(val), &sig); err != nil {
		return fusion.Signal{}, false, fmt.Errorf("decode signal %s: %w", instrument, err)
	}
	return sig, true, nil
}

// PortfolioView is the cached portfolio document.
type PortfolioView struct {
	State   portfolio.State   `json:"state"`
	Metrics portfolio.Metrics `json:"metrics"`
}

// PublishPortfolio stores the current portfolio state and metrics.
func (r *RedisCache) PublishPortfolio(ctx context.Context, state portfolio.State, m portfolio.Metrics) error {
	data, err := json.Marshal(PortfolioView{State: state, Metrics: m})
	if err != nil {
		return fmt.Errorf("marshal portfolio: %w", err)
	}
	if err := r.client.Set(ctx, r.key("portfolio"), string(data), 0).Err(); err != nil {
		return fmt.Errorf("redis set portfolio: %w", err)
	}
	return nil
}

// Portfolio returns the cached portfolio document.
func (r *RedisCache) Portfolio(ctx context.Context) (PortfolioView, bool, error) {
	val, err := r.client.Get(ctx, r.key("portfolio")).Result()
	if err == redis.Nil {
		return PortfolioView{}, false, nil
	}
	if err != nil {
		return PortfolioView{}, false, fmt.Errorf("redis get portfolio: %w", err)
	}
	var view PortfolioView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		return PortfolioView{}, false, fmt.Errorf("decode portfolio: %w", err)
	}
	return view, true, nil
}

// Close closes the client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

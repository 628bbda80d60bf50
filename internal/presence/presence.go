// Package presence keeps the latest heartbeat telemetry per client.
// It is advisory display data; billing never reads it.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no unexpired record exists for a client
var ErrNotFound = errors.New("presence record not found")

// Record is the last heartbeat received from a client
type Record struct {
	ClientID                 string
	ReportedRemainingSeconds *int
	Status                   string
	ReceivedAt               time.Time
}

// Store holds presence records with a time-to-live
type Store interface {
	Touch(ctx context.Context, record Record) error
	Get(ctx context.Context, clientID string) (*Record, error)
	Remove(ctx context.Context, clientID string) error
	Close() error
}

// RedisConfig configures the redis backend
type RedisConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	Password     string        `mapstructure:"password" yaml:"-"`
	DB           int           `mapstructure:"db" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Config selects and configures a backend
type Config struct {
	Backend   string        `mapstructure:"backend" yaml:"backend"` // "memory" or "redis"
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	Redis     RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// Open creates the configured backend
func Open(cfg Config) (Store, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("presence ttl must be positive, got %s", cfg.TTL)
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.CacheSize, cfg.TTL)
	case "redis":
		return OpenRedis(cfg.Redis, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown presence backend %q", cfg.Backend)
	}
}

package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per client with EXPIRE set to the ttl, so several
// server processes can share presence
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedis connects and pings the server
func OpenRedis(cfg RedisConfig, ttl time.Duration) (*RedisStore, error) {
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func presenceKey(clientID string) string {
	return fmt.Sprintf("liblocker:presence:%s", clientID)
}

func (s *RedisStore) Touch(ctx context.Context, record Record) error {
	key := presenceKey(record.ClientID)
	remaining := ""
	if record.ReportedRemainingSeconds != nil {
		remaining = strconv.Itoa(*record.ReportedRemainingSeconds)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"remaining":   remaining,
			"status":      record.Status,
			"received_at": record.ReceivedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, clientID string) (*Record, error) {
	data, err := s.client.HGetAll(ctx, presenceKey(clientID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return parseRecord(clientID, data)
}

func (s *RedisStore) Remove(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, presenceKey(clientID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseRecord(clientID string, data map[string]string) (*Record, error) {
	record := &Record{ClientID: clientID, Status: data["status"]}

	if v := data["remaining"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid remaining %q: %w", v, err)
		}
		record.ReportedRemainingSeconds = &n
	}
	if v := data["received_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid received_at %q: %w", v, err)
		}
		record.ReceivedAt = t
	}
	return record, nil
}

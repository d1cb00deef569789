package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"Argos-Oracle/internal/config"
)

const (
	defaultRedisKey        = "argos:submissions"
	defaultRedisMaxEntries = 1000
)

// RedisRecorder keeps entries in a capped Redis list, newest first.
type RedisRecorder struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedisRecorder connects to Redis and verifies the connection.
func NewRedisRecorder(ctx context.Context, cfg config.RedisConfig) (*RedisRecorder, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisRecorderWithClient(client, cfg.Key, cfg.MaxEntries), nil
}

// NewRedisRecorderWithClient wraps an existing client.
func NewRedisRecorderWithClient(client *redis.Client, key string, maxEntries int64) *RedisRecorder {
	if key == "" {
		key = defaultRedisKey
	}
	if maxEntries <= 0 {
		maxEntries = defaultRedisMaxEntries
	}
	return &RedisRecorder{client: client, key: key, max: maxEntries}
}

// Name implements Recorder.
func (r *RedisRecorder) Name() string { return "redis" }

// Record pushes entry to the head of the list and trims the tail.
func (r *RedisRecorder) Record(ctx context.Context, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化提交记录失败: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, encoded)
		pipe.LTrim(ctx, r.key, 0, r.max-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

// ListLatest implements Reader.
func (r *RedisRecorder) ListLatest(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("查询 Redis 提交记录失败: %w", err)
	}
	entries := make([]Entry, 0, len(values))
	for _, value := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes the Redis client.
func (r *RedisRecorder) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

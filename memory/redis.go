package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrosense/agrosense/types"
)

// RedisWindow keeps each conversation's recent turns in a Redis list,
// newest first, trimmed to the window size on every append. The farm
// profile rides in a sibling key so it survives window trimming.
type RedisWindow struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds the connection settings for the window store.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisWindow connects to Redis and verifies the connection.
func NewRedisWindow(config RedisConfig) (*RedisWindow, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisWindowWithClient(client, config.KeyPrefix), nil
}

// NewRedisWindowWithClient wraps an existing client, used by tests.
func NewRedisWindowWithClient(client *redis.Client, keyPrefix string) *RedisWindow {
	if keyPrefix == "" {
		keyPrefix = "agrosense:"
	}
	return &RedisWindow{client: client, keyPrefix: keyPrefix}
}

// Close closes the underlying client.
func (w *RedisWindow) Close() error { return w.client.Close() }

// Ping checks store health.
func (w *RedisWindow) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

func (w *RedisWindow) turnsKey(conversationID string) string {
	return w.keyPrefix + "conv:" + conversationID + ":turns"
}

func (w *RedisWindow) farmKey(conversationID string) string {
	return w.keyPrefix + "conv:" + conversationID + ":farm"
}

// Load returns the window in chronological order. A conversation with
// no stored turns yields an empty context.
func (w *RedisWindow) Load(ctx context.Context, conversationID string) (types.ConversationContext, error) {
	convCtx := types.ConversationContext{ConversationID: conversationID}

	raw, err := w.client.LRange(ctx, w.turnsKey(conversationID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return convCtx, fmt.Errorf("load window %s: %w", conversationID, err)
	}
	// stored newest first; reverse while decoding
	turns := make([]types.Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var turn types.Turn
		if err := json.Unmarshal([]byte(raw[i]), &turn); err != nil {
			return convCtx, fmt.Errorf("decode turn in %s: %w", conversationID, err)
		}
		turns = append(turns, turn)
	}
	convCtx.Turns = turns

	farmRaw, err := w.client.Get(ctx, w.farmKey(conversationID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return convCtx, fmt.Errorf("load farm profile %s: %w", conversationID, err)
	default:
		var farm types.FarmContext
		if err := json.Unmarshal([]byte(farmRaw), &farm); err != nil {
			return convCtx, fmt.Errorf("decode farm profile %s: %w", conversationID, err)
		}
		convCtx.Farm = &farm
	}
	return convCtx, nil
}

// Append pushes one turn and trims the list to windowTurns. The TTL is
// refreshed on every append so active conversations never expire.
func (w *RedisWindow) Append(ctx context.Context, conversationID string, turn types.Turn, windowTurns int, ttl time.Duration) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := w.turnsKey(conversationID)

	pipe := w.client.Pipeline()
	pipe.LPush(ctx, key, data)
	if windowTurns > 0 {
		pipe.LTrim(ctx, key, 0, int64(windowTurns)-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
		pipe.Expire(ctx, w.farmKey(conversationID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn %s: %w", conversationID, err)
	}
	return nil
}

// SetFarm stores or replaces the conversation's farm profile.
func (w *RedisWindow) SetFarm(ctx context.Context, conversationID string, farm types.FarmContext, ttl time.Duration) error {
	data, err := json.Marshal(farm)
	if err != nil {
		return fmt.Errorf("marshal farm profile: %w", err)
	}
	if err := w.client.Set(ctx, w.farmKey(conversationID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store farm profile %s: %w", conversationID, err)
	}
	return nil
}

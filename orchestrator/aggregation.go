package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// bufferedToken is one token buffered for an aggregation node, adapted
// from queue/redis/queue.go's Job struct (ActionID/WorkflowID/RunID fields
// become TokenID/RunID; EnqueuedAt survives as BufferedAt for time-window
// triggers).
type bufferedToken struct {
	TokenID    string    `json:"token_id"`
	RowJSON    string    `json:"row_json"`
	BufferedAt time.Time `json:"buffered_at"`
}

// AggregationBuffer accumulates tokens per (node, group) until a trigger
// fires, then hands the whole group back for draining. Buffers the
// distributed case via Redis lists (adapted from queue/redis/queue.go's
// RPUSH/LPOP shape), since a run's aggregation node may be fed by
// concurrently-processed upstream tokens (spec.md §5: row processing may
// run in parallel across tokens even though the aggregation itself imposes
// a serialization point per batch group).
type AggregationBuffer interface {
	Add(ctx context.Context, nodeID, groupID string, tok bufferedToken) (count int, err error)
	Drain(ctx context.Context, nodeID, groupID string) ([]bufferedToken, error)
	Len(ctx context.Context, nodeID, groupID string) (int, error)
}

func bufferKey(nodeID, groupID string) string {
	return fmt.Sprintf("landscape:agg:%s:%s", nodeID, groupID)
}

// RedisAggregationBuffer is the production AggregationBuffer, backed by a
// single Redis list per (node, group). Survives orchestrator process
// restarts between buffer writes (unlike the in-memory buffer), which
// matters because spec.md §5 says partial batches are only ever discarded
// on cancellation, never on ordinary process churn.
type RedisAggregationBuffer struct {
	client *redis.Client
}

// NewRedisAggregationBuffer connects to redisURL (e.g.
// "redis://localhost:6379/0") and verifies connectivity.
func NewRedisAggregationBuffer(ctx context.Context, redisURL string) (*RedisAggregationBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisAggregationBuffer{client: client}, nil
}

func (b *RedisAggregationBuffer) Add(ctx context.Context, nodeID, groupID string, tok bufferedToken) (int, error) {
	data, err := json.Marshal(tok)
	if err != nil {
		return 0, fmt.Errorf("marshal buffered token: %w", err)
	}
	n, err := b.client.RPush(ctx, bufferKey(nodeID, groupID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("rpush buffered token: %w", err)
	}
	return int(n), nil
}

func (b *RedisAggregationBuffer) Drain(ctx context.Context, nodeID, groupID string) ([]bufferedToken, error) {
	key := bufferKey(nodeID, groupID)
	vals, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange buffer: %w", err)
	}
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("delete drained buffer: %w", err)
	}
	out := make([]bufferedToken, 0, len(vals))
	for _, v := range vals {
		var tok bufferedToken
		if err := json.Unmarshal([]byte(v), &tok); err != nil {
			return nil, fmt.Errorf("unmarshal buffered token: %w", err)
		}
		out = append(out, tok)
	}
	return out, nil
}

func (b *RedisAggregationBuffer) Len(ctx context.Context, nodeID, groupID string) (int, error) {
	n, err := b.client.LLen(ctx, bufferKey(nodeID, groupID)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen buffer: %w", err)
	}
	return int(n), nil
}

// MemoryAggregationBuffer is an in-process AggregationBuffer for
// single-instance runs and tests where a Redis dependency isn't available.
type MemoryAggregationBuffer struct {
	mu      sync.Mutex
	buffers map[string][]bufferedToken
}

func NewMemoryAggregationBuffer() *MemoryAggregationBuffer {
	return &MemoryAggregationBuffer{buffers: make(map[string][]bufferedToken)}
}

func (b *MemoryAggregationBuffer) Add(_ context.Context, nodeID, groupID string, tok bufferedToken) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bufferKey(nodeID, groupID)
	b.buffers[key] = append(b.buffers[key], tok)
	return len(b.buffers[key]), nil
}

func (b *MemoryAggregationBuffer) Drain(_ context.Context, nodeID, groupID string) ([]bufferedToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bufferKey(nodeID, groupID)
	out := b.buffers[key]
	delete(b.buffers, key)
	return out, nil
}

func (b *MemoryAggregationBuffer) Len(_ context.Context, nodeID, groupID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[bufferKey(nodeID, groupID)]), nil
}

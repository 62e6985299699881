package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/compliance"
	"github.com/tender-engine/backend/internal/metrics"
	"github.com/tender-engine/backend/pkg/logger"
)

// Client caches classifier verdicts keyed by a hash of the requirement and
// the candidate text, so re-evaluating an unchanged candidate does not pay
// for the same model calls twice. It satisfies evaluation.VerdictCache.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Info("redis verdict cache initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// GetVerdict is a read-through lookup. Backend failures are reported as a
// miss so a degraded cache never blocks an evaluation.
func (c *Client) GetVerdict(ctx context.Context, key string) (compliance.Verdict, bool) {
	data, err := c.client.Get(ctx, verdictKey(key)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("verdict").Inc()
		return compliance.Verdict{}, false
	}
	if err != nil {
		logger.Warn("verdict cache read failed", zap.Error(err))
		metrics.CacheMisses.WithLabelValues("verdict").Inc()
		return compliance.Verdict{}, false
	}

	var verdict compliance.Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		logger.Warn("verdict cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, verdictKey(key))
		return compliance.Verdict{}, false
	}

	metrics.CacheHits.WithLabelValues("verdict").Inc()
	logger.Debug("verdict cache hit", zap.String("key", key))
	return verdict, true
}

// SetVerdict stores a verdict best-effort; a write failure only costs a
// future cache miss.
func (c *Client) SetVerdict(ctx context.Context, key string, verdict compliance.Verdict) {
	data, err := json.Marshal(verdict)
	if err != nil {
		logger.Warn("failed to marshal verdict for cache", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, verdictKey(key), data, c.ttl).Err(); err != nil {
		logger.Warn("verdict cache write failed", zap.Error(err))
	}
}

// Invalidate drops every cached verdict, for when the classifier prompt or
// model changes.
func (c *Client) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "verdict:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("verdict cache invalidated")
	return nil
}

func verdictKey(key string) string {
	return fmt.Sprintf("verdict:%s", key)
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/pkg/config"
	"github.com/docsynth/backend/pkg/logger"
	"github.com/docsynth/backend/pkg/retry"
	"github.com/docsynth/backend/pkg/utils"
)

const queryKeyPrefix = "docsynth:query:"

// Client caches query results keyed by the normalised question.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient connects to redis, retrying with policy until the server answers.
func NewClient(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, policy retry.Policy) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, policy, "redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.Duration("ttl", ttl))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func queryKey(question string) string {
	return queryKeyPrefix + utils.QuestionKey(question)
}

func (c *Client) SetQuery(ctx context.Context, question string, response any) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := c.client.Set(ctx, queryKey(question), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set query cache: %w", err)
	}

	logger.Debug("Query cached", zap.String("question", question), zap.Duration("ttl", c.ttl))
	return nil
}

// GetQuery decodes the cached result for question into response and reports
// whether there was one.
func (c *Client) GetQuery(ctx context.Context, question string, response any) (bool, error) {
	data, err := c.client.Get(ctx, queryKey(question)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("query").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get query cache: %w", err)
	}

	if err := json.Unmarshal(data, response); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	metrics.CacheHits.WithLabelValues("query").Inc()
	logger.Debug("Query cache hit", zap.String("question", question))
	return true, nil
}

// InvalidateDocumentCache drops every cached query result.
func (c *Client) InvalidateDocumentCache(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, queryKeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Query cache invalidated", zap.Int("keys", deleted))
	return nil
}

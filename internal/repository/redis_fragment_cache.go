package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scene-forge/internal/model"
	"scene-forge/internal/pipeline"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const fragmentKeyPrefix = "scene_forge:fragment:"

var _ pipeline.FragmentCache = (*RedisFragmentCache)(nil)

// RedisFragmentCache хранит отрендеренные фрагменты в Redis с TTL.
type RedisFragmentCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisFragmentCache создает кэш. ttl <= 0 - без срока жизни.
func NewRedisFragmentCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisFragmentCache {
	return &RedisFragmentCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisFragmentCache"),
	}
}

// Get возвращает фрагмент или model.ErrCacheMiss.
func (c *RedisFragmentCache) Get(ctx context.Context, key string) (model.Candidate, error) {
	data, err := c.client.Get(ctx, fragmentKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Candidate{}, model.ErrCacheMiss
	}
	if err != nil {
		return model.Candidate{}, fmt.Errorf("failed to get fragment from redis: %w", err)
	}
	var cand model.Candidate
	if err := json.Unmarshal(data, &cand); err != nil {
		// Битая запись равносильна промаху
		c.logger.Warn("Corrupted fragment in cache, dropping", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, fragmentKeyPrefix+key)
		return model.Candidate{}, model.ErrCacheMiss
	}
	return cand, nil
}

// Set сохраняет фрагмент.
func (c *RedisFragmentCache) Set(ctx context.Context, key string, cand model.Candidate) error {
	data, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, fragmentKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set fragment in redis: %w", err)
	}
	c.logger.Debug("Fragment cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// Invalidate удаляет фрагмент из кэша.
func (c *RedisFragmentCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, fragmentKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete fragment from redis: %w", err)
	}
	return nil
}

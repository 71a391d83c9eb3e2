package repository_test

import (
	"context"
	"testing"
	"time"

	"scene-forge/internal/model"
	"scene-forge/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRedisFragmentCacheUnavailable(t *testing.T) {
	// Порт 1 закрыт: клиент получает ошибку соединения, а не промах
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	cache := repository.NewRedisFragmentCache(client, time.Minute, zap.NewNop())

	_, err := cache.Get(context.Background(), "key")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrCacheMiss)

	err = cache.Set(context.Background(), "key", model.Candidate{Text: "self.wait(1)"})
	assert.Error(t, err)
}

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/puffperksonline/puffperks/internal/logger"
)

// InitializeTokenCache sets up Redis for token caching and tests the connection
func InitializeTokenCache(redisAddr string, customLogger *logger.Logger) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "",
		DB:       0,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		if customLogger != nil {
			customLogger.Error("AUTH", fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
		}
		return nil, err
	}

	// Confirm the cache key is writable before relying on it
	testKey := M2MTokenKey + ":test"
	if err := redisClient.Set(ctx, testKey, "test", 5*time.Second).Err(); err != nil {
		if customLogger != nil {
			customLogger.Error("AUTH", fmt.Sprintf("Failed to write test value to Redis: %v", err))
		}
		return nil, err
	}

	if customLogger != nil {
		customLogger.Info("AUTH", fmt.Sprintf("Redis token cache at %s is ready for use", redisAddr))
	}
	return redisClient, nil
}

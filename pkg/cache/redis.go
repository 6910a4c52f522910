// Package cache 提供 Redis 客户端封装（带熔断保护）与进程内二级缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache: miss")

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// RedisCache Redis 缓存实现。所有操作经过熔断器：Redis 故障时读写直接跳过，
// 调用方必须把缓存视为 best-effort 并保留数据库回源路径。
type RedisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	config  Config
}

// New 创建 Redis 缓存实例
func New(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		ConnMaxIdleTime: time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Redis circuit breaker state changed",
				"from", from.String(), "to", to.String())
		},
	})

	logger.Info(context.Background(), "Redis connected successfully",
		"addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))

	return &RedisCache{
		client:  client,
		breaker: breaker,
		config:  cfg,
	}, nil
}

// Get 获取缓存值，未命中返回 ErrMiss
func (rc *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := rc.breaker.Execute(func() (interface{}, error) {
		v, err := rc.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return "", ErrMiss
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return "", ErrMiss
		}
		logger.Warn(ctx, "Redis Get failed", "key", key, "error", err)
		return "", err
	}
	return val.(string), nil
}

// GetJSON 获取 JSON 格式的缓存值
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := rc.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// Set 设置缓存值
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	_, err := rc.breaker.Execute(func() (interface{}, error) {
		return nil, rc.client.Set(ctx, key, value, expiration).Err()
	})
	if err != nil {
		logger.Warn(ctx, "Redis Set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// SetJSON 设置 JSON 格式的缓存值
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rc.Set(ctx, key, string(data), expiration)
}

// Delete 删除缓存
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := rc.breaker.Execute(func() (interface{}, error) {
		return nil, rc.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		logger.Warn(ctx, "Redis Delete failed", "keys", keys, "error", err)
		return err
	}
	return nil
}

// Close 关闭 Redis 连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// GetClient 获取底层 Redis 客户端（用于高级操作，如限流）
func (rc *RedisCache) GetClient() *redis.Client {
	return rc.client
}

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🔴 Redis 缓存
// =============================================================================

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// Redis go-redis 实现的缓存
type Redis struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedis 创建 Redis 缓存并验证连通性
func NewRedis(config RedisConfig, logger *zap.Logger) (*Redis, error) {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := &Redis{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "cache"), zap.String("backend", "redis")),
	}

	logger.Info("redis cache initialized", zap.String("addr", config.Addr))
	return r, nil
}

// Get 获取缓存值
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", ErrCacheClosed
	}

	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		r.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}

	return val, nil
}

// Set 设置缓存值
func (r *Redis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrCacheClosed
	}

	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// SetDefault 以默认 TTL 设置缓存值
func (r *Redis) SetDefault(ctx context.Context, key string, value string) error {
	return r.Set(ctx, key, value, 0)
}

// Delete 删除键
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrCacheClosed
	}

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// Ping 检查 Redis 连接
func (r *Redis) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrCacheClosed
	}

	return r.client.Ping(ctx).Err()
}

// Close 关闭缓存
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.logger.Info("closing redis cache")
	return r.client.Close()
}

// Package cache 提供不透明的键值缓存:内存实现用于本地环境,
// Redis 实现用于共享部署。调用方只依赖 Cache 接口。
package cache

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// 💾 缓存接口
// =============================================================================

var (
	// ErrCacheMiss 缓存未命中
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheClosed 缓存已关闭
	ErrCacheClosed = errors.New("cache is closed")
)

// Cache 键值缓存。过期与淘汰策略由实现决定,调用方不感知。
type Cache interface {
	// Get 获取缓存值,未命中返回 ErrCacheMiss
	Get(ctx context.Context, key string) (string, error)

	// Set 设置缓存值,ttl 为 0 时使用默认 TTL
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// SetDefault 以默认 TTL 设置缓存值
	SetDefault(ctx context.Context, key string, value string) error

	// Delete 删除键
	Delete(ctx context.Context, keys ...string) error

	// Ping 检查缓存可用性
	Ping(ctx context.Context) error

	// Close 释放资源
	Close() error
}

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

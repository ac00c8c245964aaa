package cache

import (
	"context"
	"time"
)

// =============================================================================
// 📈 缓存指标装饰器
// =============================================================================

// HitRecorder 接收缓存命中与未命中事件,由指标层实现。
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Instrumented 包装一个 Cache,把每次 Get 的命中结果上报给 HitRecorder。
// 其余操作原样透传。
type Instrumented struct {
	inner    Cache
	recorder HitRecorder
	backend  string
}

// NewInstrumented 创建带指标上报的缓存包装
func NewInstrumented(inner Cache, recorder HitRecorder, backend string) *Instrumented {
	return &Instrumented{inner: inner, recorder: recorder, backend: backend}
}

// Get 获取缓存值并记录命中情况
func (c *Instrumented) Get(ctx context.Context, key string) (string, error) {
	v, err := c.inner.Get(ctx, key)
	switch {
	case err == nil:
		c.recorder.RecordCacheHit(c.backend)
	case IsCacheMiss(err):
		c.recorder.RecordCacheMiss(c.backend)
	}
	return v, err
}

// Set 设置缓存值
func (c *Instrumented) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.inner.Set(ctx, key, value, ttl)
}

// SetDefault 以默认 TTL 设置缓存值
func (c *Instrumented) SetDefault(ctx context.Context, key string, value string) error {
	return c.inner.SetDefault(ctx, key, value)
}

// Delete 删除键
func (c *Instrumented) Delete(ctx context.Context, keys ...string) error {
	return c.inner.Delete(ctx, keys...)
}

// Ping 检查缓存可用性
func (c *Instrumented) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Close 释放底层缓存资源
func (c *Instrumented) Close() error {
	return c.inner.Close()
}

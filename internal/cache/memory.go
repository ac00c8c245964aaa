package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🧠 内存缓存
// =============================================================================

// memoryEntry 一条缓存记录
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory 进程内 TTL 缓存,读时惰性过期,后台定期清理。
type Memory struct {
	defaultTTL time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool

	stop chan struct{}
}

// NewMemory 创建内存缓存
func NewMemory(defaultTTL time.Duration, logger *zap.Logger) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}

	m := &Memory{
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "cache"), zap.String("backend", "memory")),
		entries:    make(map[string]memoryEntry),
		stop:       make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Get 获取缓存值
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrCacheClosed
	}

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

// Set 设置缓存值
func (m *Memory) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrCacheClosed
	}

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// SetDefault 以默认 TTL 设置缓存值
func (m *Memory) SetDefault(ctx context.Context, key string, value string) error {
	return m.Set(ctx, key, value, 0)
}

// Delete 删除键
func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrCacheClosed
	}

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Ping 检查可用性
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrCacheClosed
	}
	return nil
}

// Close 停止后台清理并释放存储
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.entries = nil
	return nil
}

// janitor 定期清理过期记录
func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

package plan

import (
	"context"
	"sync"
	"time"
)

// CacheStore 指纹到已完成计划的缓存接口。
// 进程内用 MemoryCache，多实例部署用 Redis 实现，调用方无感知。
type CacheStore interface {
	// Get 返回缓存值及是否命中；未命中不是错误
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCache 进程内缓存实现，仅按 TTL 过期，无容量上限。
// 结果体积小且 TTL 短，不需要 LRU。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

// Get 获取缓存值，过期条目惰性删除
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.payload, true, nil
}

// Set 写入缓存值
func (c *MemoryCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{
		payload:   payload,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete 删除缓存值
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// SetClock 注入时钟，仅测试使用
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

package plan

import (
	"context"
	"sync"
	"time"
)

// PendingEntry 一次在途的上游生成
type PendingEntry struct {
	Fingerprint string
	StartedAt   time.Time
	cancel      context.CancelFunc
}

// PendingRegistry 进程级的在途请求注册表。
// 不变式：任一指纹最多存在一个 PendingEntry。
// 端点使用"后到者胜"策略：新请求取消并替换同指纹的在途请求。
type PendingRegistry struct {
	mu      sync.Mutex
	entries map[string]*PendingEntry
}

// NewPendingRegistry 创建注册表
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		entries: make(map[string]*PendingEntry),
	}
}

// Has 是否存在同指纹的在途请求
func (r *PendingRegistry) Has(fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[fingerprint]
	return ok
}

// Register 登记在途请求，返回的条目是后续 Release 的凭据。
// 同指纹已有条目时由调用方负责先显式 Cancel。
func (r *PendingRegistry) Register(fingerprint string, cancel context.CancelFunc) *PendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := &PendingEntry{
		Fingerprint: fingerprint,
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	r.entries[fingerprint] = entry
	return entry
}

// Cancel 取消并移除在途请求，返回是否确有条目被取消
func (r *PendingRegistry) Cancel(fingerprint string) bool {
	r.mu.Lock()
	entry, ok := r.entries[fingerprint]
	if ok {
		delete(r.entries, fingerprint)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	return true
}

// Release 移除条目（请求结束时调用），不触发取消。
// 仅当登记的仍是 entry 本身时才移除：被顶掉的请求在收尾时
// 不得误删替代者的条目。
func (r *PendingRegistry) Release(entry *PendingEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[entry.Fingerprint]; ok && current == entry {
		delete(r.entries, entry.Fingerprint)
	}
}

// Len 当前在途请求数
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/dropfeed/core"
)

// MemoryStore 是内存实现的 Store，用于测试/开发/原型。
// 支持 TTL（过期时间），但进程重启后数据丢失。
// 同时实现 core.DurableCache，便于在没有 sqlite 的场景下充当兜底通道。
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]*entry
	clean *time.Ticker
	done  chan struct{}
	once  sync.Once
}

type entry struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		data:  make(map[string]*entry),
		clean: time.NewTicker(10 * time.Second),
		done:  make(chan struct{}),
	}
	go ms.cleanup()
	return ms
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok || e.expired(time.Now()) {
		return nil, core.ErrStoreNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	e := &entry{value: append([]byte(nil), value...)}
	if len(ttl) > 0 && ttl[0] > 0 {
		e.expiresAt = time.Now().Add(time.Duration(ttl[0]) * time.Second)
	}

	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// GetCache 返回原始 payload 与过期时间，过期判断由调用方完成。
func (m *MemoryStore) GetCache(ctx context.Context, key string) ([]byte, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return nil, time.Time{}, core.ErrStoreNotFound
	}
	return e.value, e.expiresAt, nil
}

func (m *MemoryStore) PutCache(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	m.mu.Lock()
	m.data[key] = &entry{value: append([]byte(nil), payload...), expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		m.clean.Stop()
		close(m.done)
	})
	return nil
}

func (m *MemoryStore) cleanup() {
	for {
		select {
		case <-m.done:
			return
		case <-m.clean.C:
			m.mu.Lock()
			now := time.Now()
			for k, e := range m.data {
				if e.expired(now) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

var (
	_ core.Store        = (*MemoryStore)(nil)
	_ core.DurableCache = (*MemoryStore)(nil)
)

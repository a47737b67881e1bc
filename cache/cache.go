// Package cache 提供两级缓存：主通道（core.Store，生产为 Redis）+ 持久化兜底（core.DurableCache）。
//
// 读：先主通道，未命中或出错再读兜底表（客户端判断过期）。
// 写：两级都写。
// 任何后端错误（网络、超时、熔断、解析）都被视为 miss / no-op，只记日志与指标，从不向调用方返回错误。
package cache

import (
	"context"
	"math"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/metrics"
)

const backendDurable = "durable"

// Options 是缓存参数。
type Options struct {
	// OpTimeout 是单次后端操作的超时，默认 150ms
	OpTimeout time.Duration
	// AsyncTimeout 是 SetAsync 的整体超时，默认 2s
	AsyncTimeout time.Duration
	// BreakerFailures 是主通道连续失败多少次后熔断，默认 5
	BreakerFailures uint32
	// BreakerOpenFor 是熔断打开后的冷却时间，默认 30s
	BreakerOpenFor time.Duration
}

func (o Options) withDefaults() Options {
	if o.OpTimeout <= 0 {
		o.OpTimeout = 150 * time.Millisecond
	}
	if o.AsyncTimeout <= 0 {
		o.AsyncTimeout = 2 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerOpenFor <= 0 {
		o.BreakerOpenFor = 30 * time.Second
	}
	return o
}

// Cache 是两级缓存。primary 与 durable 均可为 nil（对应层被跳过）。
type Cache struct {
	primary core.Store
	durable core.DurableCache
	breaker *gobreaker.CircuitBreaker[[]byte]
	opts    Options
	now     func() time.Time
	pending sync.WaitGroup
}

// New 创建两级缓存。
func New(primary core.Store, durable core.DurableCache, opts Options) *Cache {
	opts = opts.withDefaults()
	c := &Cache{primary: primary, durable: durable, opts: opts, now: time.Now}
	if primary != nil {
		name := primary.Name()
		c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     opts.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.CacheBreakerState.WithLabelValues(name).Set(float64(to))
				logging.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).
					Msg("cache breaker state changed")
			},
		})
	}
	return c
}

// Get 读取 key。第二个返回值表示是否命中。
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.getPrimary(ctx, key); ok {
		return v, true
	}
	return c.getDurable(ctx, key)
}

func (c *Cache) getPrimary(ctx context.Context, key string) ([]byte, bool) {
	if c.primary == nil {
		return nil, false
	}
	backend := c.primary.Name()
	found := false
	v, err := c.breaker.Execute(func() ([]byte, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
		b, err := c.primary.Get(opCtx, key)
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		found = true
		return b, nil
	})
	switch {
	case err != nil:
		metrics.RecordCache(backend, "get", "error")
		logging.Ctx(ctx).Debug().Err(err).Str("backend", backend).Str("key", key).Msg("cache get failed")
		return nil, false
	case !found:
		metrics.RecordCache(backend, "get", "miss")
		return nil, false
	}
	metrics.RecordCache(backend, "get", "hit")
	return v, true
}

func (c *Cache) getDurable(ctx context.Context, key string) ([]byte, bool) {
	if c.durable == nil {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	payload, expiresAt, err := c.durable.GetCache(opCtx, key)
	switch {
	case core.IsStoreNotFound(err):
		metrics.RecordCache(backendDurable, "get", "miss")
		return nil, false
	case err != nil:
		metrics.RecordCache(backendDurable, "get", "error")
		logging.Ctx(ctx).Debug().Err(err).Str("backend", backendDurable).Str("key", key).Msg("cache get failed")
		return nil, false
	case !c.now().Before(expiresAt):
		metrics.RecordCache(backendDurable, "get", "expired")
		return nil, false
	}
	metrics.RecordCache(backendDurable, "get", "hit")
	return payload, true
}

// Set 写入两级缓存，任一后端成功即返回 true。
func (c *Cache) Set(ctx context.Context, key string, ttl time.Duration, value []byte) bool {
	ok := c.setPrimary(ctx, key, ttl, value)
	if c.setDurable(ctx, key, ttl, value) {
		ok = true
	}
	return ok
}

func (c *Cache) setPrimary(ctx context.Context, key string, ttl time.Duration, value []byte) bool {
	if c.primary == nil {
		return false
	}
	backend := c.primary.Name()
	_, err := c.breaker.Execute(func() ([]byte, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
		return nil, c.primary.Set(opCtx, key, value, ttlSeconds(ttl))
	})
	if err != nil {
		metrics.RecordCache(backend, "set", "error")
		logging.Ctx(ctx).Debug().Err(err).Str("backend", backend).Str("key", key).Msg("cache set failed")
		return false
	}
	metrics.RecordCache(backend, "set", "ok")
	return true
}

func (c *Cache) setDurable(ctx context.Context, key string, ttl time.Duration, value []byte) bool {
	if c.durable == nil {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.durable.PutCache(opCtx, key, value, c.now().Add(ttl)); err != nil {
		metrics.RecordCache(backendDurable, "set", "error")
		logging.Ctx(ctx).Debug().Err(err).Str("backend", backendDurable).Str("key", key).Msg("cache set failed")
		return false
	}
	metrics.RecordCache(backendDurable, "set", "ok")
	return true
}

// SetAsync 在后台写入，不阻塞调用方，也不受请求取消影响。
func (c *Cache) SetAsync(ctx context.Context, key string, ttl time.Duration, value []byte) {
	bg := context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		actx, cancel := context.WithTimeout(bg, c.opts.AsyncTimeout)
		defer cancel()
		c.Set(actx, key, ttl, value)
	}()
}

// Wait 等待所有 SetAsync 与延迟删除完成（优雅退出与测试使用）。
func (c *Cache) Wait() {
	c.pending.Wait()
}

// Delete 删除 key：主通道直接删除，兜底表写入一个已过期的空值。
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.primary != nil {
		_, err := c.breaker.Execute(func() ([]byte, error) {
			opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
			defer cancel()
			return nil, c.primary.Delete(opCtx, key)
		})
		if err != nil {
			metrics.RecordCache(c.primary.Name(), "delete", "error")
			logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache delete failed")
		}
	}
	if c.durable != nil {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
		if err := c.durable.PutCache(opCtx, key, []byte{}, time.Unix(0, 0)); err != nil {
			metrics.RecordCache(backendDurable, "delete", "error")
			logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache delete failed")
		}
	}
}

// Invalidate 立即删除 key，并在 settle + AsyncTimeout 之后再删除一次。
// settle 是写入方从读源数据到发出 SetAsync 的最长耗时；在此窗口内发出的旧值
// 可能在第一次删除之后才落地，第二次删除把它清掉。
func (c *Cache) Invalidate(ctx context.Context, key string, settle time.Duration) {
	c.Delete(ctx, key)
	bg := context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		timer := time.NewTimer(max(settle, 0) + c.opts.AsyncTimeout)
		defer timer.Stop()
		<-timer.C
		c.Delete(bg, key)
	}()
}

// GetJSON 读取并解码；解码失败视为 miss。
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	b, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		metrics.RecordCache("codec", "get", "error")
		logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache decode failed")
		return false
	}
	return true
}

// SetJSON 编码并同步写入。
func (c *Cache) SetJSON(ctx context.Context, key string, ttl time.Duration, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache encode failed")
		return false
	}
	return c.Set(ctx, key, ttl, b)
}

// SetJSONAsync 编码后异步写入。
func (c *Cache) SetJSONAsync(ctx context.Context, key string, ttl time.Duration, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	c.SetAsync(ctx, key, ttl, b)
}

// BreakerState 返回主通道熔断器状态（健康检查使用）。
func (c *Cache) BreakerState() string {
	if c.breaker == nil {
		return "none"
	}
	return c.breaker.State().String()
}

// ttlSeconds 将 TTL 向上取整到秒，至少 1 秒。
func ttlSeconds(ttl time.Duration) int {
	s := int(math.Ceil(ttl.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

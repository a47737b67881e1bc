package filter

import (
	"context"
	"time"

	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/metrics"
)

// SeenOptions 是已曝光集合参数。
type SeenOptions struct {
	Lookback time.Duration // 默认 14 天，也是 reset 标记的下限
	Limit    int           // 单次查询行数上限，默认 4000
	Timeout  time.Duration // 查询超时，默认 2s
}

func (o SeenOptions) withDefaults() SeenOptions {
	if o.Lookback <= 0 {
		o.Lookback = 14 * 24 * time.Hour
	}
	if o.Limit <= 0 {
		o.Limit = 4000
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// ResetMarker 是 reset-seen 标记，缓存在 feed:seen_reset:* 下。
type ResetMarker struct {
	ResetAt time.Time `json:"reset_at"`
}

// Scope 是 reset-seen 的作用范围。
type Scope string

const (
	ScopeCards Scope = "cards"
	ScopeShops Scope = "shops"
	ScopeDrops Scope = "drops"
	ScopeAll   Scope = "all"
)

// Surfaces 返回该范围覆盖的 Surface。未知范围返回 nil。
func (s Scope) Surfaces() []core.Surface {
	switch s {
	case ScopeCards:
		return []core.Surface{core.SurfaceSwipeCards}
	case ScopeShops:
		return []core.Surface{core.SurfaceSwipeShops, core.SurfaceShops}
	case ScopeDrops:
		return []core.Surface{core.SurfaceDrops}
	case ScopeAll:
		return core.Surfaces()
	}
	return nil
}

// SeenSet 计算用户在滚动窗口内已曝光的 target key 集合。每次请求都重新计算，不缓存。
type SeenSet struct {
	store core.ImpressionStore
	cache *cache.Cache
	opts  SeenOptions
	now   func() time.Time
}

func NewSeenSet(store core.ImpressionStore, c *cache.Cache, opts SeenOptions) *SeenSet {
	return &SeenSet{store: store, cache: c, opts: opts.withDefaults(), now: time.Now}
}

// Since 返回有效的窗口起点：max(now - lookback, reset_at)。
func (s *SeenSet) Since(ctx context.Context, q core.SeenQuery) time.Time {
	since := s.now().Add(-s.opts.Lookback)
	if s.cache == nil {
		return since
	}
	var marker ResetMarker
	key := cache.SeenResetKey(q.UserID, q.Role, q.TargetType, q.RecVersion, q.RecType)
	if s.cache.GetJSON(ctx, key, &marker) && marker.ResetAt.After(since) {
		return marker.ResetAt
	}
	return since
}

// Compute 返回已曝光集合。存储出错时请求继续，返回空集合且 degraded 为 true，
// 调用方据此在响应里标记本次结果可能包含已看过的条目。
func (s *SeenSet) Compute(ctx context.Context, q core.SeenQuery) (seen map[string]struct{}, degraded bool) {
	since := s.Since(ctx, q)

	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	keys, err := s.store.SeenTargetKeys(qctx, q, since, s.opts.Limit)
	if err != nil {
		metrics.SeenSetErrors.Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("target_type", string(q.TargetType)).Msg("seen set degraded to empty")
		return map[string]struct{}{}, true
	}
	seen = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	return seen, false
}

// Reset 为 scope 覆盖的每个 Surface 写入 reset 标记（同步写，TTL 等于 lookback）。
// 所有写入都失败时返回 UNAVAILABLE。
func (s *SeenSet) Reset(ctx context.Context, userID string, role core.Role, recVersion int, scope Scope) error {
	surfaces := scope.Surfaces()
	if surfaces == nil {
		return core.NewDomainError(core.ModuleFeed, core.ErrorCodeInvalidInput, "unknown reset scope: "+string(scope))
	}
	if s.cache == nil {
		return core.NewDomainError(core.ModuleCache, core.ErrorCodeUnavailable, "no cache configured for reset markers")
	}
	marker := ResetMarker{ResetAt: s.now()}
	written := 0
	for _, surface := range surfaces {
		key := cache.SeenResetKey(userID, role, surface.TargetType(), recVersion, surface)
		if s.cache.SetJSON(ctx, key, s.opts.Lookback, marker) {
			written++
		}
	}
	if written == 0 {
		return core.NewDomainError(core.ModuleCache, core.ErrorCodeUnavailable, "reset marker not written")
	}
	return nil
}

// SeenFilter 过滤 rctx.Seen 中的候选。
type SeenFilter struct{}

func (SeenFilter) Name() string {
	return "filter.seen"
}

func (SeenFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	return rctx.IsSeen(item.ID), nil
}

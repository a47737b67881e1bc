package builder

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/metrics"
	"github.com/rushteam/dropfeed/pipeline"
	"github.com/rushteam/dropfeed/recall"
)

var errNeedMoreSwipes = errors.New("no liked tags")

type poolBuilder struct {
	surface core.Surface
	ttl     time.Duration
	source  recall.Source
	prepare *pipeline.Pipeline // 准入表达式 + 打分
	seen    pipeline.Node
	rerank  *pipeline.Pipeline
	cache   *cache.Cache
	sf      *singleflight.Group
	now     func() time.Time

	buildTimeout time.Duration
}

func (b *poolBuilder) run(ctx context.Context, rctx *core.RecommendContext) []core.RecItem {
	log := logging.Ctx(ctx)

	pool, err := b.pool(ctx, rctx)
	switch {
	case errors.Is(err, errNeedMoreSwipes):
		return renumber([]core.RecItem{fallbackItem(rctx, core.NeedMoreSwipes{Hint: "like a few cards first"})})
	case err != nil:
		log.Warn().Err(err).Str("surface", string(b.surface)).Msg("pool build failed")
		return renumber([]core.RecItem{fallbackItem(rctx, core.Unavailable{
			Hint:     "candidate source unavailable",
			Counters: core.Counters{Seen: len(rctx.Seen), SeenDegraded: rctx.SeenDegraded},
		})})
	}

	counters := core.Counters{Raw: pool.Raw, Pool: len(pool.Items), Seen: len(rctx.Seen), SeenDegraded: rctx.SeenDegraded}
	if len(pool.Items) == 0 {
		return renumber([]core.RecItem{fallbackItem(rctx, b.emptyInsight(counters))})
	}

	items := make([]*core.Item, len(pool.Items))
	for i, it := range pool.Items {
		items[i] = it.Clone()
	}
	items, _ = b.seen.Process(ctx, rctx, items)
	counters.Filtered = len(items)
	if len(items) == 0 {
		return renumber([]core.RecItem{fallbackItem(rctx, core.Cooldown{Counters: counters})})
	}

	picked, err := b.rerank.Run(ctx, rctx, items)
	if err != nil {
		log.Warn().Err(err).Str("surface", string(b.surface)).Strs("nodes", b.rerank.Names()).
			Msg("rerank failed, using score order")
		picked = items
	}
	if rctx.Limit > 0 && len(picked) > rctx.Limit {
		picked = picked[:rctx.Limit]
	}

	out := make([]core.RecItem, 0, len(picked)+1)
	if summary, ok := b.summary(rctx); ok {
		out = append(out, summary)
	}
	for _, it := range picked {
		out = append(out, b.render(rctx, it))
	}
	return renumber(out)
}

// pool 读取缓存中的候选池；未命中时构建并异步回写。相同 key 的并发未命中合并为一次构建。
func (b *poolBuilder) pool(ctx context.Context, rctx *core.RecommendContext) (*core.CandidatePool, error) {
	if b.surface == core.SurfaceSwipeShops && len(rctx.UserSignals().LikedTagsTop) == 0 {
		return nil, errNeedMoreSwipes
	}

	key := cache.PoolKey(b.surface, rctx.Algorithm, rctx.RecVersion, rctx.Role, rctx.UserID)
	var cached core.CandidatePool
	if b.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	// 合并后的构建不跟随任何单个请求取消，等待同一个 key 的其他请求仍能拿到结果
	v, err, _ := b.sf.Do(key, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.buildTimeout)
		defer cancel()
		pool, err := b.build(bctx, rctx)
		metrics.RecordPoolBuild(string(b.surface), poolSize(pool), err)
		if err != nil {
			return nil, err
		}
		if len(pool.Items) > 0 {
			b.cache.SetJSONAsync(bctx, key, b.ttl, pool)
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.CandidatePool), nil
}

func (b *poolBuilder) build(ctx context.Context, rctx *core.RecommendContext) (*core.CandidatePool, error) {
	batch, err := b.source.Recall(ctx, rctx)
	if err != nil {
		return nil, err
	}
	items, err := b.prepare.Run(ctx, rctx, batch.Items)
	if err != nil {
		return nil, err
	}
	return &core.CandidatePool{Items: items, Raw: batch.Raw, BuiltAt: b.now()}, nil
}

func (b *poolBuilder) emptyInsight(c core.Counters) core.Insight {
	switch b.surface {
	case core.SurfaceSwipeCards:
		return core.NoCards{Counters: c}
	case core.SurfaceSwipeShops:
		return core.NoCandidates{Hint: "no shops match your liked tags yet", Counters: c}
	case core.SurfaceShops:
		return core.NoCandidates{Hint: "no shops available", Counters: c}
	default:
		return core.NoCandidates{Hint: "no published drops", Counters: c}
	}
}

// summary 为 swipe 类 Surface 生成偏好摘要条目。
func (b *poolBuilder) summary(rctx *core.RecommendContext) (core.RecItem, bool) {
	if b.surface != core.SurfaceSwipeCards && b.surface != core.SurfaceSwipeShops {
		return core.RecItem{}, false
	}
	tags := rctx.UserSignals().LikedTagsTop
	if len(tags) == 0 {
		return core.RecItem{}, false
	}
	if len(tags) > 5 {
		tags = tags[:5]
	}
	return insightItem(rctx, core.SwipeSummary{Tags: tags}), true
}

func (b *poolBuilder) render(rctx *core.RecommendContext, it *core.Item) core.RecItem {
	payload := make(map[string]any, len(it.Meta)+1)
	for k, v := range it.Meta {
		payload[k] = v
	}
	payload["score"] = it.Score

	item := core.RecItem{
		Role:       rctx.Role,
		RecType:    b.surface,
		TargetType: b.surface.TargetType(),
		Explain:    explain(it),
		Payload:    payload,
	}
	if item.TargetType != core.TargetInsight {
		id := it.ID
		item.TargetID = &id
	}
	return item
}

func poolSize(p *core.CandidatePool) int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

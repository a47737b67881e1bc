// Package builder 为每个 Surface 组装候选池并产出最终条目：
// 候选池（缓存 + singleflight）-> 已曝光过滤 -> 空集降级 -> 重排截断 -> 偏好摘要 -> 重新编号。
//
// 所有上游错误都在这里被转换为信息类降级条目，Build 不返回 error。
package builder

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/config"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/feature"
	"github.com/rushteam/dropfeed/filter"
	"github.com/rushteam/dropfeed/pipeline"
	"github.com/rushteam/dropfeed/rank"
	"github.com/rushteam/dropfeed/recall"
)

// Options 是 Builders 的依赖与配置。
type Options struct {
	Catalog    core.CatalogStore
	Cache      *cache.Cache
	Popularity feature.PopularitySource // 可为 nil
	Weights    rank.Weights
	Surfaces   map[core.Surface]config.SurfaceConfig
	Factory    *pipeline.NodeFactory // 为 nil 时使用 config.DefaultFactory()
	Now        func() time.Time
}

// Builders 按 Surface 分发到对应的候选池构建器或 seller insights 生成器。
type Builders struct {
	pools  map[core.Surface]*poolBuilder
	seller *SellerInsights
}

// New 根据配置为每个带候选池的 Surface 创建构建器。
func New(opts Options) (*Builders, error) {
	if opts.Catalog == nil || opts.Cache == nil {
		return nil, fmt.Errorf("builder: catalog and cache are required")
	}
	if opts.Factory == nil {
		opts.Factory = config.DefaultFactory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	sf := &singleflight.Group{}

	b := &Builders{
		pools:  make(map[core.Surface]*poolBuilder, 4),
		seller: &SellerInsights{Catalog: opts.Catalog, Now: opts.Now},
	}
	for _, surface := range core.Surfaces() {
		sc, ok := opts.Surfaces[surface]
		if !ok {
			sc = config.DefaultSurfaces()[surface]
		}
		pb, err := newPoolBuilder(surface, sc, opts, sf)
		if err != nil {
			return nil, fmt.Errorf("builder %s: %w", surface, err)
		}
		b.pools[surface] = pb
	}
	return b, nil
}

// Build 为 rctx.Surface 产出条目（未写曝光、rank 已从 0 连续编号）。
// rctx.Signals 与 rctx.Seen 需由调用方提前填好。
func (b *Builders) Build(ctx context.Context, rctx *core.RecommendContext) []core.RecItem {
	if rctx.Surface == core.SurfaceSellerInsights {
		return b.seller.Build(ctx, rctx)
	}
	pb, ok := b.pools[rctx.Surface]
	if !ok {
		return renumber([]core.RecItem{fallbackItem(rctx, core.Unavailable{Hint: "unknown surface " + string(rctx.Surface)})})
	}
	return pb.run(ctx, rctx)
}

// Warm 只构建并缓存候选池，不做已曝光过滤，返回池大小。
func (b *Builders) Warm(ctx context.Context, rctx *core.RecommendContext) (int, error) {
	pb, ok := b.pools[rctx.Surface]
	if !ok {
		return 0, nil
	}
	pool, err := pb.pool(ctx, rctx)
	if err != nil {
		return 0, err
	}
	return len(pool.Items), nil
}

func sourceFor(surface core.Surface, opts Options, limit int) recall.Source {
	switch surface {
	case core.SurfaceSwipeCards:
		return &recall.Cards{Store: opts.Catalog, Limit: limit, Popularity: opts.Popularity}
	case core.SurfaceSwipeShops:
		return &recall.ShopsByTags{Store: opts.Catalog, Limit: limit}
	case core.SurfaceDrops:
		return &recall.Drops{Store: opts.Catalog, Limit: limit, Popularity: opts.Popularity}
	default:
		return &recall.Shops{Store: opts.Catalog, Limit: limit}
	}
}

func newPoolBuilder(surface core.Surface, sc config.SurfaceConfig, opts Options, sf *singleflight.Group) (*poolBuilder, error) {
	var prepare []pipeline.Node
	if sc.Eligibility != "" {
		f, err := filter.NewExprFilter(sc.Eligibility)
		if err != nil {
			return nil, fmt.Errorf("eligibility: %w", err)
		}
		prepare = append(prepare, &filter.FilterNode{Filters: []filter.Filter{f}, DropOnError: true})
	}
	prepare = append(prepare, &rank.ScoreNode{
		Scorer:          rank.ForSurface(surface, opts.Weights),
		DropNonPositive: surface == core.SurfaceSwipeShops,
	})

	rerank, err := pipeline.BuildNodes(opts.Factory, sc.Nodes)
	if err != nil {
		return nil, fmt.Errorf("rerank nodes: %w", err)
	}
	if sc.BuildTimeout <= 0 {
		sc.BuildTimeout = config.DefaultBuildTimeout
	}
	return &poolBuilder{
		surface: surface,
		ttl:     sc.TTL,
		source:  sourceFor(surface, opts, sc.RawLimit),
		prepare: pipeline.New(prepare...),
		seen:    &filter.FilterNode{Filters: []filter.Filter{filter.SeenFilter{}}},
		rerank:  rerank,
		cache:   opts.Cache,
		sf:      sf,
		now:     opts.Now,

		buildTimeout: sc.BuildTimeout,
	}, nil
}

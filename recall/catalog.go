package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/feature"
	"github.com/rushteam/dropfeed/pkg/utils"
)

// Drops 召回已发布商品。Popularity 非空时用其覆盖存储中的热度。
type Drops struct {
	Store      core.CatalogStore
	Limit      int
	Popularity feature.PopularitySource
}

func (r *Drops) Name() string { return "recall.drops" }

func (r *Drops) Recall(ctx context.Context, _ *core.RecommendContext) (*Batch, error) {
	rows, err := r.Store.ListDrops(ctx, r.Limit)
	if err != nil {
		return nil, fmt.Errorf("list drops: %w", err)
	}
	b := normalizeAll(rows, NormalizeDrop)
	overridePopularity(ctx, r.Popularity, b.Items)
	return b, nil
}

// Cards 召回 swipe 卡片。
type Cards struct {
	Store      core.CatalogStore
	Limit      int
	Popularity feature.PopularitySource
}

func (r *Cards) Name() string { return "recall.cards" }

func (r *Cards) Recall(ctx context.Context, _ *core.RecommendContext) (*Batch, error) {
	rows, err := r.Store.ListCards(ctx, r.Limit)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	b := normalizeAll(rows, NormalizeCard)
	overridePopularity(ctx, r.Popularity, b.Items)
	return b, nil
}

// Shops 召回店铺（旧版店铺 Feed）。
type Shops struct {
	Store core.CatalogStore
	Limit int
}

func (r *Shops) Name() string { return "recall.shops" }

func (r *Shops) Recall(ctx context.Context, _ *core.RecommendContext) (*Batch, error) {
	rows, err := r.Store.ListShops(ctx, r.Limit)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	return normalizeAll(rows, NormalizeShop), nil
}

// ShopsByTags 按用户 top liked 标签召回店铺，每个店铺携带 tag:<name> 特征（该标签下商品数）。
type ShopsByTags struct {
	Store core.CatalogStore
	Limit int
}

func (r *ShopsByTags) Name() string { return "recall.shops_by_tags" }

func (r *ShopsByTags) Recall(ctx context.Context, rctx *core.RecommendContext) (*Batch, error) {
	liked := rctx.UserSignals().LikedTagsTop
	if len(liked) == 0 {
		return &Batch{}, nil
	}
	tags := make([]string, len(liked))
	for i, tc := range liked {
		tags[i] = tc.Tag
	}
	counts, err := r.Store.ShopTagCounts(ctx, tags, r.Limit)
	if err != nil {
		return nil, fmt.Errorf("shop tag counts: %w", err)
	}

	b := &Batch{Raw: len(counts)}
	byShop := make(map[string]*core.Item)
	for _, c := range counts {
		if c.ShopSlug == "" || c.ItemCount <= 0 {
			continue
		}
		it, ok := byShop[c.ShopSlug]
		if !ok {
			name := c.ShopName
			if name == "" {
				name = c.ShopSlug
			}
			it = core.NewItem(c.ShopSlug)
			it.Meta = map[string]any{"id": c.ShopSlug, "kind": "shop", "slug": c.ShopSlug, "name": name}
			byShop[c.ShopSlug] = it
			b.Items = append(b.Items, it)
		}
		it.Features[FeatureTagPrefix+core.NormalizeToken(c.Tag)] += float64(c.ItemCount)
	}
	for _, it := range b.Items {
		matched := make([]string, 0, len(it.Features))
		for _, tc := range liked {
			if it.Features[FeatureTagPrefix+tc.Tag] > 0 {
				matched = append(matched, tc.Tag)
			}
		}
		it.Meta["matchedTags"] = matched
	}
	return b, nil
}

func overridePopularity(ctx context.Context, src feature.PopularitySource, items []*core.Item) {
	if src == nil || len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	values := src.Popularity(ctx, ids)
	for _, it := range items {
		if v, ok := values[it.ID]; ok && v >= 0 {
			it.Features[FeaturePopularity] = v
			it.PutLabel("popularity_source", utils.Label{Value: "feast", Source: "recall"})
		}
	}
}

package recall

import (
	"math"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pkg/conv"
)

// 原始行中同一语义可能分散在多个列名下，这里一次性消解。
var (
	imageColumns     = []string{"image_url", "cover_url", "image", "photo", "photo_url", "thumbnail_url", "thumbnail"}
	shopImageColumns = []string{"logo_url", "avatar_url", "image_url", "logo"}
	shopSlugColumns  = []string{"shop_slug", "shopSlug", "shop"}
)

// 特征名
const (
	FeaturePopularity = "popularity"
	FeaturePrice      = "price"
	FeatureBuyRate    = "buy_rate"
	FeatureDropsCount = "drops_count"
	// FeatureTagPrefix + tag 是店铺在该标签下的商品数（shops-from-swipe 使用）
	FeatureTagPrefix = "tag:"
)

// NormalizeDrop 把商品原始行归一化为候选。缺少 ID 或无法解析出图片的行返回 false。
func NormalizeDrop(row core.RawRow) (*core.Item, bool) {
	id := conv.FirstString(row, "id", "drop_id")
	if id == "" {
		return nil, false
	}
	image := conv.FirstString(row, imageColumns...)
	if image == "" {
		photos, ok := conv.StringList(row["photos"])
		if !ok || len(photos) == 0 {
			return nil, false
		}
		image = photos[0]
	}
	tags, ok := conv.StringList(row["tags"])
	if !ok {
		return nil, false
	}

	it := core.NewItem(id)
	price, _ := conv.FirstFloat(row, "price", "price_amount")
	if price < 0 || math.IsNaN(price) {
		price = 0
	}
	popularity, _ := conv.FirstFloat(row, "popularity", "score", "likes")
	it.Features[FeaturePrice] = price
	it.Features[FeaturePopularity] = math.Max(popularity, 0)

	it.Meta = map[string]any{
		"id":        id,
		"kind":      "drop",
		"title":     conv.FirstString(row, "title", "name"),
		"brand":     conv.FirstString(row, "brand"),
		"size":      conv.FirstString(row, "size"),
		"condition": conv.FirstString(row, "condition"),
		"price":     price,
		"image":     image,
		"shopSlug":  conv.FirstString(row, shopSlugColumns...),
		"sellerId":  conv.FirstString(row, "seller_id"),
		"tags":      lowerAll(tags),
	}
	return it, true
}

// NormalizeShop 把店铺原始行归一化为候选。缺少 slug 的行返回 false。
func NormalizeShop(row core.RawRow) (*core.Item, bool) {
	slug := conv.FirstString(row, "slug", "shop_slug", "id")
	if slug == "" {
		return nil, false
	}
	it := core.NewItem(slug)
	buyRate, _ := conv.FirstFloat(row, "buy_rate", "conversion_rate")
	dropsCount, _ := conv.FirstFloat(row, "drops_count", "listing_count")
	it.Features[FeatureBuyRate] = buyRate
	it.Features[FeatureDropsCount] = math.Max(dropsCount, 0)

	name := conv.FirstString(row, "name", "title")
	if name == "" {
		name = slug
	}
	it.Meta = map[string]any{
		"id":         slug,
		"kind":       "shop",
		"slug":       slug,
		"name":       name,
		"logo":       conv.FirstString(row, shopImageColumns...),
		"banner":     conv.FirstString(row, "banner_url", "cover_url"),
		"dropsCount": int(dropsCount),
	}
	return it, true
}

// NormalizeCard 把 swipe 卡片原始行归一化为候选。缺少 ID、图片，或标签形态非法的行返回 false。
func NormalizeCard(row core.RawRow) (*core.Item, bool) {
	id := conv.FirstString(row, "id", "card_id")
	if id == "" {
		return nil, false
	}
	image := conv.FirstString(row, imageColumns...)
	if image == "" {
		return nil, false
	}
	tags, ok := conv.StringList(row["tags"])
	if !ok {
		return nil, false
	}

	it := core.NewItem(id)
	popularity, _ := conv.FirstFloat(row, "popularity", "score")
	it.Features[FeaturePopularity] = math.Max(popularity, 0)
	it.Meta = map[string]any{
		"id":       id,
		"kind":     string(core.KindSwipeCard),
		"title":    conv.FirstString(row, "title", "name"),
		"image":    image,
		"tags":     lowerAll(tags),
		"shopSlug": conv.FirstString(row, shopSlugColumns...),
	}
	return it, true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = core.NormalizeToken(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package rank

import (
	"math"
	"strconv"
	"strings"

	"github.com/rushteam/dropfeed/bucket"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pkg/utils"
	"github.com/rushteam/dropfeed/recall"
)

// Scorer 对单个候选打分，并可写入解释用的 labels。
type Scorer interface {
	Name() string
	Score(rctx *core.RecommendContext, item *core.Item) float64
}

// ForSurface 返回 surface 对应的打分器；seller_insights 没有打分器。
func ForSurface(surface core.Surface, w Weights) Scorer {
	switch surface {
	case core.SurfaceSwipeCards:
		return &CardScorer{W: w}
	case core.SurfaceSwipeShops:
		return &ShopTagScorer{}
	case core.SurfaceDrops:
		return &DropScorer{W: w}
	case core.SurfaceShops:
		return &ShopScorer{W: w}
	}
	return nil
}

func noise(rctx *core.RecommendContext, item *core.Item) float64 {
	return bucket.Noise(rctx.UserID, item.ID)
}

func label(item *core.Item, key, value string) {
	item.PutLabel(key, utils.Label{Value: value, Source: "rank"})
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// CardScorer 是 swipe 卡片打分：log1p(热度) + 标签匹配。
type CardScorer struct{ W Weights }

func (s *CardScorer) Name() string { return "rank.cards" }

func (s *CardScorer) Score(rctx *core.RecommendContext, item *core.Item) float64 {
	sig := rctx.UserSignals()
	score := math.Log1p(item.Feature(recall.FeaturePopularity))

	capN := s.W.CardTagCap
	if rctx.Algorithm == core.AlgoVector {
		capN = s.W.CardVectorTagCap
	}
	var liked, disliked []string
	for _, tag := range item.MetaStrings("tags") {
		if c := sig.LikedTagCount(tag); c > 0 {
			score += s.W.CardLikedTag * math.Min(capN, c)
			liked = append(liked, tag)
		}
		if c := sig.DislikedTagCount(tag); c > 0 {
			score -= s.W.CardDislikedTag * math.Min(capN, c)
			disliked = append(disliked, tag)
		}
	}

	switch rctx.Algorithm {
	case core.AlgoVector:
		score += s.W.CardVectorNoise * noise(rctx, item)
	case core.AlgoHybrid:
		score += s.W.CardHybridNoise * noise(rctx, item)
	}

	if len(liked) > 0 {
		label(item, "liked_tags", strings.Join(liked, ","))
	}
	if len(disliked) > 0 {
		label(item, "disliked_tags", strings.Join(disliked, ","))
	}
	return score
}

// DropScorer 是商品打分：log1p(热度) + 品牌/尺码/店铺/价格个性化。
// vector 变体以稳定噪声替代个性化。
type DropScorer struct{ W Weights }

func (s *DropScorer) Name() string { return "rank.drops" }

func (s *DropScorer) Score(rctx *core.RecommendContext, item *core.Item) float64 {
	score := math.Log1p(item.Feature(recall.FeaturePopularity))
	if rctx.Algorithm == core.AlgoVector {
		return score + s.W.DropVectorNoise*noise(rctx, item)
	}

	sig := rctx.UserSignals()
	brand, size, shop := item.MetaString("brand"), item.MetaString("size"), item.MetaString("shopSlug")
	var reasons []string
	if core.Contains(sig.LikedBrands, brand) {
		score += s.W.DropBrand
		reasons = append(reasons, "brand")
	}
	if core.Contains(sig.LikedSizes, size) {
		score += s.W.DropSize
		reasons = append(reasons, "size")
	}
	if core.Contains(sig.LikedShops, shop) {
		score += s.W.DropShop
		reasons = append(reasons, "shop")
	}
	if price := item.Feature(recall.FeaturePrice); sig.AvgPrice > 0 && price > 0 &&
		math.Abs(price-sig.AvgPrice) <= s.W.DropPriceBand*sig.AvgPrice {
		score += s.W.DropPrice
		reasons = append(reasons, "price")
	}
	if core.Contains(sig.DislikedBrands, brand) {
		score -= s.W.DropDislikedBrand
		reasons = append(reasons, "-brand")
	}
	if core.Contains(sig.DislikedSizes, size) {
		score -= s.W.DropDislikedSize
		reasons = append(reasons, "-size")
	}
	if core.Contains(sig.DislikedShops, shop) {
		score -= s.W.DropDislikedShop
		reasons = append(reasons, "-shop")
	}
	if rctx.Algorithm == core.AlgoHybrid {
		score += s.W.DropHybridNoise * noise(rctx, item)
	}
	if len(reasons) > 0 {
		label(item, "match", strings.Join(reasons, ","))
	}
	return score
}

// ShopScorer 是旧版店铺打分：log10(1+商品数) + 购买率 + liked/disliked 店铺。
type ShopScorer struct{ W Weights }

func (s *ShopScorer) Name() string { return "rank.shops" }

func (s *ShopScorer) Score(rctx *core.RecommendContext, item *core.Item) float64 {
	buyRate := math.Max(0, math.Min(1, item.Feature(recall.FeatureBuyRate)))
	score := math.Log10(1+item.Feature(recall.FeatureDropsCount)) + s.W.ShopBuyRate*buyRate

	if rctx.Algorithm == core.AlgoVector {
		return score + s.W.ShopVectorNoise*noise(rctx, item)
	}
	sig := rctx.UserSignals()
	if core.Contains(sig.LikedShops, item.ID) {
		score += s.W.ShopLiked
		label(item, "match", "liked_shop")
	}
	if core.Contains(sig.DislikedShops, item.ID) {
		score -= s.W.ShopDisliked
		label(item, "match", "disliked_shop")
	}
	return score
}

// ShopTagScorer 是 shops-from-swipe 打分：Σ weight(tag) × log1p(item_count)，
// weight 在 vector 变体下为 1，否则为用户对该标签的 liked 计数。
type ShopTagScorer struct{}

func (s *ShopTagScorer) Name() string { return "rank.shops_by_tags" }

func (s *ShopTagScorer) Score(rctx *core.RecommendContext, item *core.Item) float64 {
	var score float64
	for _, tc := range rctx.UserSignals().LikedTagsTop {
		n := item.Feature(recall.FeatureTagPrefix + tc.Tag)
		if n <= 0 {
			continue
		}
		w := tc.Count
		if rctx.Algorithm == core.AlgoVector {
			w = 1
		}
		score += w * math.Log1p(n)
	}
	if tags := item.MetaStrings("matchedTags"); len(tags) > 0 {
		label(item, "liked_tags", strings.Join(tags, ","))
	}
	label(item, "score", fmtFloat(score))
	return score
}

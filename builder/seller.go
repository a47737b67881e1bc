package builder

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/pkg/conv"
)

const (
	trendSample      = 50
	trendTop         = 5
	sellerListingCap = 50
	priceHintMax     = 20
	minPeers         = 3
	priceDeviation   = 0.25
	savedLookback    = 30 * 24 * time.Hour
	savedCombosTop   = 5
	peerPriceLimit   = 200
)

var (
	onboardingSteps = []string{
		"Add a shop logo and banner",
		"Publish your first drop with at least three photos",
		"Fill in brand, size and condition for every drop",
	}
	qualityTips = []string{
		"Use a bright, uncluttered cover photo",
		"Mention measurements in the title or description",
		"Price within 25% of similar listings to sell faster",
	}
)

// SellerInsights 是规则生成的卖家洞察：没有候选池缓存，也不做已曝光过滤。
type SellerInsights struct {
	Catalog core.CatalogStore
	Now     func() time.Time
}

type listing struct {
	id, title, brand, size, condition string
	price                             float64
}

func listingOf(row core.RawRow) listing {
	price, _ := conv.FirstFloat(row, "price", "price_amount")
	return listing{
		id:        conv.FirstString(row, "id", "drop_id"),
		title:     conv.FirstString(row, "title", "name"),
		brand:     core.NormalizeToken(conv.FirstString(row, "brand")),
		size:      core.NormalizeToken(conv.FirstString(row, "size")),
		condition: core.NormalizeToken(conv.FirstString(row, "condition")),
		price:     price,
	}
}

// Build 生成卖家洞察，过滤掉卖家点踩过的 kind；什么都不剩时输出兜底条目（不受点踩过滤）。
// 没有在售商品时入门清单排在最前。
func (s *SellerInsights) Build(ctx context.Context, rctx *core.RecommendContext) []core.RecItem {
	log := logging.Ctx(ctx)

	var global, own []listing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.Catalog.ListDrops(gctx, trendSample)
		if err != nil {
			log.Warn().Err(err).Msg("seller insights: global listings unavailable")
			return nil
		}
		global = listings(rows)
		return nil
	})
	g.Go(func() error {
		rows, err := s.Catalog.SellerListings(gctx, rctx.UserID, sellerListingCap)
		if err != nil {
			log.Warn().Err(err).Msg("seller insights: seller listings unavailable")
			return nil
		}
		own = listings(rows)
		return nil
	})
	_ = g.Wait()

	var insights []core.Insight
	if brands := frequencies(global, func(l listing) string { return l.brand }); len(brands) > 0 {
		insights = append(insights, core.TrendBrands{Brands: brands})
	}
	if sizes := frequencies(global, func(l listing) string { return l.size }); len(sizes) > 0 {
		insights = append(insights, core.TrendSizes{Sizes: sizes})
	}
	if combos := s.savedCombos(ctx, own); len(combos) > 0 {
		insights = append(insights, core.SavedCombos{Combos: combos})
	}
	for _, h := range s.priceHints(ctx, rctx.UserID, own) {
		insights = append(insights, h)
	}

	disliked := rctx.UserSignals().DislikedKinds
	kept := insights[:0]
	for _, in := range insights {
		if !core.Contains(disliked, string(in.Kind())) {
			kept = append(kept, in)
		}
	}

	out := make([]core.RecItem, 0, len(kept)+3)
	limit := rctx.Limit
	// 没有在售商品的卖家总能看到入门清单，不受点踩过滤与条数截断影响
	if len(own) == 0 {
		out = append(out, fallbackItem(rctx, core.OnboardingChecklist{Steps: onboardingSteps}))
		if limit > 0 {
			limit--
		}
	}
	if len(kept) == 0 {
		return renumber(append(out, s.fallback(rctx, global, own)...))
	}
	if rctx.Limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	for _, in := range kept {
		out = append(out, insightItem(rctx, in))
	}
	return renumber(out)
}

func (s *SellerInsights) fallback(rctx *core.RecommendContext, global, own []listing) []core.RecItem {
	var out []core.RecItem
	if len(own) > 0 {
		out = append(out, fallbackItem(rctx, core.QualityTips{Tips: qualityTips}))
	}
	var prices []float64
	for _, l := range global {
		if l.price > 0 {
			prices = append(prices, l.price)
		}
	}
	if len(prices) > 0 {
		out = append(out, fallbackItem(rctx, core.MarketMedian{Median: median(prices), Sample: len(prices)}))
	}
	if len(global) == 0 {
		out = append(out, fallbackItem(rctx, core.NoCandidates{Hint: "no published listings to compare against"}))
	}
	return out
}

func (s *SellerInsights) savedCombos(ctx context.Context, own []listing) []core.SavedCombo {
	seen := make(map[string]struct{})
	var brands []string
	for _, l := range own {
		if l.brand == "" {
			continue
		}
		if _, ok := seen[l.brand]; !ok {
			seen[l.brand] = struct{}{}
			brands = append(brands, l.brand)
		}
	}
	if len(brands) == 0 {
		return nil
	}
	combos, err := s.Catalog.SavedCombos(ctx, brands, s.Now().Add(-savedLookback), savedCombosTop)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("seller insights: saved combos unavailable")
		return nil
	}
	return combos
}

// priceHints 比较卖家商品价格与同 brand/size/condition 其他卖家商品的中位数。
func (s *SellerInsights) priceHints(ctx context.Context, sellerID string, own []listing) []core.Insight {
	var candidates []listing
	for _, l := range own {
		if l.id != "" && l.brand != "" && l.size != "" && l.price > 0 {
			candidates = append(candidates, l)
		}
		if len(candidates) == priceHintMax {
			break
		}
	}
	hints := make([]*core.PriceHint, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, l := range candidates {
		g.Go(func() error {
			peers, err := s.Catalog.PeerPrices(gctx, l.brand, l.size, l.condition, sellerID, peerPriceLimit)
			if err != nil || len(peers) < minPeers {
				return nil
			}
			m := median(peers)
			if m <= 0 {
				return nil
			}
			dev := (l.price - m) / m
			if math.Abs(dev) >= priceDeviation {
				hints[i] = &core.PriceHint{ListingID: l.id, Title: l.title, Price: l.price, Median: m, Deviation: dev}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []core.Insight
	for _, h := range hints {
		if h != nil {
			out = append(out, *h)
		}
	}
	return out
}

func listings(rows []core.RawRow) []listing {
	out := make([]listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, listingOf(r))
	}
	return out
}

func frequencies(ls []listing, key func(listing) string) []core.Freq {
	counts := make(map[string]int)
	for _, l := range ls {
		if k := key(l); k != "" {
			counts[k]++
		}
	}
	out := make([]core.Freq, 0, len(counts))
	for v, c := range counts {
		out = append(out, core.Freq{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > trendTop {
		out = out[:trendTop]
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

package builder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rushteam/dropfeed/cache"
	_ "github.com/rushteam/dropfeed/config/builders"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/rank"
	"github.com/rushteam/dropfeed/store"
)

type fakeCatalog struct {
	drops, shops, cards []core.RawRow
	own                 []core.RawRow
	tagCounts           []core.ShopTagCount
	peers               []float64
	combos              []core.SavedCombo
	err                 error
	cardCalls           int
}

func (f *fakeCatalog) ListDrops(context.Context, int) ([]core.RawRow, error) { return f.drops, f.err }
func (f *fakeCatalog) ListShops(context.Context, int) ([]core.RawRow, error) { return f.shops, f.err }
func (f *fakeCatalog) ListCards(ctx context.Context, _ int) ([]core.RawRow, error) {
	f.cardCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.cards, f.err
}
func (f *fakeCatalog) ShopTagCounts(context.Context, []string, int) ([]core.ShopTagCount, error) {
	return f.tagCounts, f.err
}
func (f *fakeCatalog) SellerListings(context.Context, string, int) ([]core.RawRow, error) {
	return f.own, f.err
}
func (f *fakeCatalog) PeerPrices(context.Context, string, string, string, string, int) ([]float64, error) {
	return f.peers, f.err
}
func (f *fakeCatalog) SavedCombos(context.Context, []string, time.Time, int) ([]core.SavedCombo, error) {
	return f.combos, f.err
}

func cardRow(id string, tags ...string) core.RawRow {
	return core.RawRow{"id": id, "image_url": id + ".jpg", "tags": tags, "popularity": 0.0}
}

func dropRow(id, brand, shop string, price, pop float64) core.RawRow {
	return core.RawRow{"id": id, "image_url": id + ".jpg", "brand": brand, "size": "m",
		"shop_slug": shop, "price": price, "popularity": pop}
}

func newBuilders(t *testing.T, cat core.CatalogStore) (*Builders, *cache.Cache) {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	c := cache.New(mem, mem, cache.Options{})
	b, err := New(Options{Catalog: cat, Cache: c, Weights: rank.DefaultWeights()})
	if err != nil {
		t.Fatalf("创建 builders 失败: %v", err)
	}
	return b, c
}

func denimContext(limit int, seen ...string) *core.RecommendContext {
	rctx := &core.RecommendContext{
		UserID:     "u1",
		Role:       core.RoleBuyer,
		RecVersion: 2,
		Surface:    core.SurfaceSwipeCards,
		Algorithm:  core.AlgoCollaborative,
		Limit:      limit,
		Signals:    &core.UserSignals{LikedTagsTop: []core.TagCount{{Tag: "denim", Count: 4}}},
		Seen:       map[string]struct{}{},
	}
	for _, s := range seen {
		rctx.Seen[s] = struct{}{}
	}
	return rctx
}

func cards(items []core.RecItem) []core.RecItem {
	var out []core.RecItem
	for _, it := range items {
		if core.KindOf(it.Payload) == core.KindSwipeCard {
			out = append(out, it)
		}
	}
	return out
}

func TestSwipeCards_DenimScenario(t *testing.T) {
	cat := &fakeCatalog{cards: []core.RawRow{cardRow("A", "denim", "blue"), cardRow("B", "leather")}}
	b, _ := newBuilders(t, cat)

	out := b.Build(context.Background(), denimContext(1))
	if core.KindOf(out[0].Payload) != core.KindSwipeSummary {
		t.Fatalf("第一个条目应为 swipe_summary，实际 %v", out[0].Payload["kind"])
	}
	got := cards(out)
	if len(got) != 1 || got[0].Payload["id"] != "A" {
		t.Fatalf("期望只返回卡片 A，实际 %+v", got)
	}
	for i, it := range out {
		if it.Rank != i {
			t.Fatalf("rank 未连续编号: %d -> %d", i, it.Rank)
		}
		if it.RecType != core.SurfaceSwipeCards || it.TargetType != core.TargetInsight {
			t.Fatalf("条目类型不符: %+v", it)
		}
	}
}

func TestSwipeCards_SeenExclusion(t *testing.T) {
	cat := &fakeCatalog{cards: []core.RawRow{cardRow("A", "denim", "blue"), cardRow("B", "leather")}}
	b, _ := newBuilders(t, cat)

	got := cards(b.Build(context.Background(), denimContext(1, "A")))
	if len(got) != 1 || got[0].Payload["id"] != "B" {
		t.Fatalf("A 已曝光，期望返回 B，实际 %+v", got)
	}

	out := b.Build(context.Background(), denimContext(1, "A", "B"))
	last := out[len(out)-1]
	if core.KindOf(last.Payload) != core.KindCooldown {
		t.Fatalf("全部已曝光应返回 cooldown，实际 %v", last.Payload["kind"])
	}
	debug := last.Payload["debug"].(map[string]any)
	if debug["pool"] != 2 || debug["seen"] != 2 || debug["filtered"] != 0 {
		t.Fatalf("计数不符: %+v", debug)
	}
}

func TestFallbackTotality(t *testing.T) {
	cases := []struct {
		name    string
		cat     *fakeCatalog
		surface core.Surface
		signals *core.UserSignals
		want    core.InsightKind
	}{
		{"没有卡片", &fakeCatalog{}, core.SurfaceSwipeCards, nil, core.KindNoCards},
		{"卡片全部非法", &fakeCatalog{cards: []core.RawRow{{"id": "x"}, {"image_url": "y.jpg"}}}, core.SurfaceSwipeCards, nil, core.KindNoCards},
		{"没有商品", &fakeCatalog{}, core.SurfaceDrops, nil, core.KindNoCandidates},
		{"没有店铺", &fakeCatalog{}, core.SurfaceShops, nil, core.KindNoCandidates},
		{"没有 liked 标签", &fakeCatalog{}, core.SurfaceSwipeShops, nil, core.KindNeedMoreSwipes},
		{"标签无匹配店铺", &fakeCatalog{}, core.SurfaceSwipeShops,
			&core.UserSignals{LikedTagsTop: []core.TagCount{{Tag: "denim", Count: 1}}}, core.KindNoCandidates},
		{"上游错误", &fakeCatalog{err: errors.New("db down")}, core.SurfaceDrops, nil, core.KindUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, _ := newBuilders(t, c.cat)
			rctx := &core.RecommendContext{UserID: "u1", Role: core.RoleBuyer, RecVersion: 1,
				Surface: c.surface, Algorithm: core.AlgoHybrid, Limit: 10, Signals: c.signals}
			out := b.Build(context.Background(), rctx)
			if len(out) == 0 {
				t.Fatalf("不应返回空列表")
			}
			var kinds []core.InsightKind
			for _, it := range out {
				kinds = append(kinds, core.KindOf(it.Payload))
			}
			found := false
			for _, k := range kinds {
				found = found || k == c.want
			}
			if !found || out[len(out)-1].TargetType != core.TargetInsight {
				t.Fatalf("期望 %s，实际 %v", c.want, kinds)
			}
		})
	}
}

func TestSeenDegradedInDebugCounters(t *testing.T) {
	cat := &fakeCatalog{cards: []core.RawRow{cardRow("A", "denim")}}
	b, _ := newBuilders(t, cat)

	rctx := denimContext(1, "A")
	rctx.SeenDegraded = true
	out := b.Build(context.Background(), rctx)
	last := out[len(out)-1]
	debug, _ := last.Payload["debug"].(map[string]any)
	if core.KindOf(last.Payload) != core.KindCooldown || debug["seenDegraded"] != true {
		t.Fatalf("降级时 debug 应带 seenDegraded，实际 %+v", last.Payload)
	}

	out = b.Build(context.Background(), denimContext(1, "A"))
	debug, _ = out[len(out)-1].Payload["debug"].(map[string]any)
	if _, ok := debug["seenDegraded"]; ok {
		t.Fatalf("正常请求不应带 seenDegraded: %+v", debug)
	}
}

func TestPoolIsCached(t *testing.T) {
	cat := &fakeCatalog{cards: []core.RawRow{cardRow("A", "denim"), cardRow("B", "leather")}}
	b, c := newBuilders(t, cat)

	b.Build(context.Background(), denimContext(2))
	c.Wait()
	cat.cards = nil
	got := cards(b.Build(context.Background(), denimContext(2)))
	if len(got) != 2 {
		t.Fatalf("第二次请求应命中缓存，实际 %d 张卡片", len(got))
	}
	if cat.cardCalls != 1 {
		t.Fatalf("目录只应被读取一次，实际 %d", cat.cardCalls)
	}
}

func TestDrops_NoDuplicatesAndSeenExcluded(t *testing.T) {
	cat := &fakeCatalog{drops: []core.RawRow{
		dropRow("d1", "levis", "a", 50, 100),
		dropRow("d2", "levis", "a", 55, 90),
		dropRow("d3", "nike", "b", 400, 80),
		dropRow("d4", "gucci", "c", 900, 70),
		dropRow("d5", "zara", "d", 20, 60),
		dropRow("d6", "levis", "b", 45, 50),
	}}
	b, _ := newBuilders(t, cat)
	rctx := &core.RecommendContext{UserID: "u1", Role: core.RoleBuyer, RecVersion: 1,
		Surface: core.SurfaceDrops, Algorithm: core.AlgoCollaborative, Limit: 4,
		Seen: map[string]struct{}{"d3": {}}}

	out := b.Build(context.Background(), rctx)
	if len(out) != 4 {
		t.Fatalf("期望 4 个条目，实际 %d", len(out))
	}
	keys := map[string]struct{}{}
	for _, it := range out {
		k := it.Key()
		if _, dup := keys[k]; dup {
			t.Fatalf("重复条目 %s", k)
		}
		keys[k] = struct{}{}
		if k == "d3" {
			t.Fatalf("已曝光的 d3 不应返回")
		}
		if it.TargetType != core.TargetDrop || it.TargetID == nil {
			t.Fatalf("drop 条目缺少 targetId: %+v", it)
		}
	}
}

func TestSwipeShops(t *testing.T) {
	cat := &fakeCatalog{tagCounts: []core.ShopTagCount{
		{ShopSlug: "acme", Tag: "denim", ItemCount: 10},
		{ShopSlug: "beta", Tag: "denim", ItemCount: 2},
	}}
	b, _ := newBuilders(t, cat)
	rctx := &core.RecommendContext{UserID: "u1", Role: core.RoleBuyer, RecVersion: 2,
		Surface: core.SurfaceSwipeShops, Algorithm: core.AlgoCollaborative, Limit: 5,
		Signals: &core.UserSignals{LikedTagsTop: []core.TagCount{{Tag: "denim", Count: 3}}}}

	out := b.Build(context.Background(), rctx)
	if len(out) != 3 || core.KindOf(out[0].Payload) != core.KindSwipeSummary {
		t.Fatalf("期望 summary + 2 个店铺，实际 %+v", out)
	}
	if *out[1].TargetID != "acme" || out[1].TargetType != core.TargetShop {
		t.Fatalf("acme 应排第一: %+v", out[1])
	}
}

func sellerContext(disliked ...string) *core.RecommendContext {
	return &core.RecommendContext{UserID: "s1", Role: core.RoleSeller, RecVersion: 1,
		Surface: core.SurfaceSellerInsights, Algorithm: core.AlgoCollaborative, Limit: 10,
		Signals: &core.UserSignals{DislikedKinds: disliked}}
}

func kindsOf(items []core.RecItem) []core.InsightKind {
	out := make([]core.InsightKind, len(items))
	for i, it := range items {
		out[i] = core.KindOf(it.Payload)
	}
	return out
}

func TestPoolBuildIgnoresCallerCancel(t *testing.T) {
	cat := &fakeCatalog{cards: []core.RawRow{cardRow("A", "denim"), cardRow("B", "leather")}}
	b, c := newBuilders(t, cat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := b.Build(ctx, denimContext(10))
	c.Wait()
	for _, it := range out {
		if k := core.KindOf(it.Payload); k == core.KindUnavailable {
			t.Fatalf("请求取消不应导致共享构建失败: %v", kindsOf(out))
		}
	}
	if n, err := b.Warm(context.Background(), denimContext(10)); err != nil || n != 2 {
		t.Fatalf("候选池应已缓存，size=%d err=%v", n, err)
	}
	if cat.cardCalls != 1 {
		t.Fatalf("期望只构建一次，实际 %d 次", cat.cardCalls)
	}
}

func TestSellerInsights_EmptySeller(t *testing.T) {
	b, _ := newBuilders(t, &fakeCatalog{})
	got := kindsOf(b.Build(context.Background(), sellerContext()))
	if len(got) != 2 || got[0] != core.KindOnboardingChecklist || got[1] != core.KindNoCandidates {
		t.Fatalf("期望 onboarding_checklist + no_candidates，实际 %v", got)
	}
}

func TestSellerInsights_NewSellerWithMarketData(t *testing.T) {
	cat := &fakeCatalog{
		drops: []core.RawRow{
			dropRow("g1", "levis", "a", 40, 10),
			dropRow("g2", "nike", "b", 60, 9),
		},
	}
	b, _ := newBuilders(t, cat)

	got := kindsOf(b.Build(context.Background(), sellerContext()))
	want := []core.InsightKind{core.KindOnboardingChecklist, core.KindTrendBrands, core.KindTrendSizes}
	if len(got) != len(want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("期望 %v，实际 %v", want, got)
		}
	}

	// 入门清单不受点踩过滤
	got = kindsOf(b.Build(context.Background(), sellerContext("onboarding_checklist", "trend_brands", "trend_sizes")))
	if len(got) != 2 || got[0] != core.KindOnboardingChecklist || got[1] != core.KindMarketMedian {
		t.Fatalf("期望 onboarding_checklist + market_median，实际 %v", got)
	}

	// limit 为 1 时只保留入门清单
	rctx := sellerContext()
	rctx.Limit = 1
	if got := kindsOf(b.Build(context.Background(), rctx)); len(got) != 1 || got[0] != core.KindOnboardingChecklist {
		t.Fatalf("limit=1 期望只有 onboarding_checklist，实际 %v", got)
	}
}

func TestSellerInsights_Rules(t *testing.T) {
	cat := &fakeCatalog{
		drops: []core.RawRow{
			dropRow("g1", "levis", "a", 40, 10),
			dropRow("g2", "levis", "b", 60, 9),
			dropRow("g3", "nike", "c", 80, 8),
		},
		own: []core.RawRow{
			{"id": "mine", "title": "Levis 501", "brand": "Levis", "size": "M", "condition": "good", "price": 100.0},
		},
		peers:  []float64{40, 50, 60},
		combos: []core.SavedCombo{{Brand: "levis", Size: "m", Count: 3}},
	}
	b, _ := newBuilders(t, cat)

	out := b.Build(context.Background(), sellerContext())
	got := kindsOf(out)
	want := []core.InsightKind{core.KindTrendBrands, core.KindTrendSizes, core.KindSavedCombos, core.KindPriceHint}
	if len(got) != len(want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("期望 %v，实际 %v", want, got)
		}
	}
	hint := out[3]
	if key := hint.TargetKey(); key == nil || *key != "mine" {
		t.Fatalf("price_hint 的 target key 应为商品 id")
	}
	if hint.Payload["direction"] != "above" {
		t.Fatalf("价格高于中位数 50，方向应为 above")
	}

	// 点踩过的 kind 被过滤
	got = kindsOf(b.Build(context.Background(), sellerContext("trend_brands", "price_hint")))
	if len(got) != 2 || got[0] != core.KindTrendSizes || got[1] != core.KindSavedCombos {
		t.Fatalf("过滤后期望 trend_sizes + saved_combos，实际 %v", got)
	}

	// 全部被过滤时兜底不受点踩影响
	got = kindsOf(b.Build(context.Background(), sellerContext(
		"trend_brands", "trend_sizes", "saved_combos", "price_hint", "quality_tips", "market_median")))
	if len(got) != 2 || got[0] != core.KindQualityTips || got[1] != core.KindMarketMedian {
		t.Fatalf("兜底期望 quality_tips + market_median，实际 %v", got)
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{5, 1, 3}, 3},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, c := range cases {
		if got := median(c.in); got != c.want {
			t.Fatalf("median(%v) 期望 %v，实际 %v", c.in, c.want, got)
		}
	}
}

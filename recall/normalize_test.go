package recall

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/dropfeed/core"
)

func TestNormalizeDrop(t *testing.T) {
	tests := []struct {
		name      string
		row       core.RawRow
		wantOK    bool
		wantImage string
	}{
		{"image_url", core.RawRow{"id": "d1", "image_url": "https://a"}, true, "https://a"},
		{"cover fallback", core.RawRow{"id": "d1", "image_url": nil, "cover_url": "https://c"}, true, "https://c"},
		{"photos json", core.RawRow{"id": "d1", "photos": `["https://p1","https://p2"]`}, true, "https://p1"},
		{"photos list", core.RawRow{"id": "d1", "photos": []any{"https://p1"}}, true, "https://p1"},
		{"no image", core.RawRow{"id": "d1", "photos": "[]"}, false, ""},
		{"no id", core.RawRow{"image_url": "https://a"}, false, ""},
		{"bad tags", core.RawRow{"id": "d1", "image_url": "https://a", "tags": 42}, false, ""},
		{"bytes columns", core.RawRow{"id": []byte("d1"), "image_url": []byte("https://b")}, true, "https://b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, ok := NormalizeDrop(tt.row)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && it.MetaString("image") != tt.wantImage {
				t.Errorf("image = %q, want %q", it.MetaString("image"), tt.wantImage)
			}
		})
	}
}

func TestNormalizeDrop_Fields(t *testing.T) {
	it, ok := NormalizeDrop(core.RawRow{
		"id": "d1", "image_url": "https://a", "brand": "Levis", "size": "M", "price": "40.5",
		"shop_slug": "acme", "popularity": int64(7), "tags": "Denim, blue",
	})
	if !ok {
		t.Fatal("应归一化成功")
	}
	if it.Feature(FeaturePrice) != 40.5 || it.Feature(FeaturePopularity) != 7 {
		t.Errorf("features = %v", it.Features)
	}
	if it.MetaString("shopSlug") != "acme" {
		t.Errorf("shopSlug = %q", it.MetaString("shopSlug"))
	}
	if tags := it.MetaStrings("tags"); len(tags) != 2 || tags[0] != "denim" {
		t.Errorf("tags = %v", tags)
	}
}

func TestNormalizeCardAndShop(t *testing.T) {
	if _, ok := NormalizeCard(core.RawRow{"id": "c1"}); ok {
		t.Error("没有图片的卡片应被丢弃")
	}
	card, ok := NormalizeCard(core.RawRow{"id": "c1", "image": "https://i", "tags": []string{"Denim"}})
	if !ok || card.MetaString("kind") != "swipe_card" || card.MetaStrings("tags")[0] != "denim" {
		t.Fatalf("card = %+v", card)
	}

	shop, ok := NormalizeShop(core.RawRow{"slug": "acme", "buy_rate": 0.4, "drops_count": int64(12)})
	if !ok || shop.Feature(FeatureDropsCount) != 12 || shop.MetaString("name") != "acme" {
		t.Fatalf("shop = %+v", shop)
	}
	if _, ok := NormalizeShop(core.RawRow{"name": "No slug"}); ok {
		t.Error("没有 slug 的店铺应被丢弃")
	}
}

func TestNormalizeAllDedup(t *testing.T) {
	b := normalizeAll([]core.RawRow{
		{"id": "c1", "image": "https://1"},
		{"id": "c1", "image": "https://2"},
		{"id": "", "image": "https://3"},
	}, NormalizeCard)
	if b.Raw != 3 || len(b.Items) != 1 || b.Items[0].MetaString("image") != "https://1" {
		t.Fatalf("batch = raw %d items %d", b.Raw, len(b.Items))
	}
}

type fakeCatalog struct {
	counts []core.ShopTagCount
}

func (f *fakeCatalog) ListDrops(context.Context, int) ([]core.RawRow, error) { return nil, nil }
func (f *fakeCatalog) ListShops(context.Context, int) ([]core.RawRow, error) { return nil, nil }
func (f *fakeCatalog) ListCards(context.Context, int) ([]core.RawRow, error) { return nil, nil }
func (f *fakeCatalog) ShopTagCounts(context.Context, []string, int) ([]core.ShopTagCount, error) {
	return f.counts, nil
}
func (f *fakeCatalog) SellerListings(context.Context, string, int) ([]core.RawRow, error) {
	return nil, nil
}
func (f *fakeCatalog) PeerPrices(context.Context, string, string, string, string, int) ([]float64, error) {
	return nil, nil
}
func (f *fakeCatalog) SavedCombos(context.Context, []string, time.Time, int) ([]core.SavedCombo, error) {
	return nil, nil
}

func TestShopsByTags(t *testing.T) {
	src := &ShopsByTags{Store: &fakeCatalog{counts: []core.ShopTagCount{
		{ShopSlug: "acme", ShopName: "Acme", Tag: "denim", ItemCount: 10},
		{ShopSlug: "acme", Tag: "vintage", ItemCount: 3},
		{ShopSlug: "beta", Tag: "denim", ItemCount: 2},
		{ShopSlug: "", Tag: "denim", ItemCount: 5},
	}}, Limit: 100}
	rctx := &core.RecommendContext{Signals: &core.UserSignals{LikedTagsTop: []core.TagCount{{Tag: "denim", Count: 4}, {Tag: "vintage", Count: 1}}}}

	b, err := src.Recall(context.Background(), rctx)
	if err != nil {
		t.Fatalf("Recall 失败: %v", err)
	}
	if len(b.Items) != 2 {
		t.Fatalf("items = %d", len(b.Items))
	}
	acme := b.Items[0]
	if acme.Feature(FeatureTagPrefix+"denim") != 10 || acme.Feature(FeatureTagPrefix+"vintage") != 3 {
		t.Errorf("acme features = %v", acme.Features)
	}

	empty, _ := src.Recall(context.Background(), &core.RecommendContext{})
	if len(empty.Items) != 0 {
		t.Error("没有 liked 标签时不应召回")
	}
}

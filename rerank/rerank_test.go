package rerank

import (
	"context"
	"fmt"
	"testing"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/recall"
)

func drop(id, brand, shop string, price float64) *core.Item {
	it := core.NewItem(id)
	it.Meta["brand"] = brand
	it.Meta["shopSlug"] = shop
	it.Features[recall.FeaturePrice] = price
	return it
}

func ids(items []*core.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestPickDiversified(t *testing.T) {
	items := []*core.Item{
		drop("1", "levis", "a", 0),
		drop("2", "levis", "b", 0),
		drop("3", "nike", "a", 0),
		drop("4", "nike", "c", 0),
		drop("5", "adidas", "d", 0),
	}
	cases := []struct {
		name string
		n    int
		keys []KeyFunc
		want string
	}{
		{"按品牌去重", 3, []KeyFunc{MetaKey("brand")}, "[1 3 5]"},
		{"品牌+店铺", 3, []KeyFunc{MetaKey("brand"), MetaKey("shopSlug")}, "[1 4 5]"},
		{"第二遍补齐保持原顺序", 5, []KeyFunc{MetaKey("brand")}, "[1 3 5 2 4]"},
		{"n 超过候选数", 10, nil, "[1 2 3 4 5]"},
		{"n 为 0", 0, nil, "[]"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := fmt.Sprint(ids(PickDiversified(items, c.n, c.keys...)))
			if got != c.want {
				t.Fatalf("期望 %s，实际 %s", c.want, got)
			}
		})
	}
}

// 候选有 k 个不同 key 时，requested <= k 必须返回完全不同的 key。
func TestPickDiversified_BestEffort(t *testing.T) {
	var items []*core.Item
	brands := []string{"a", "b", "c", "d"}
	for i := 0; i < 20; i++ {
		items = append(items, drop(fmt.Sprint(i), brands[(i*i)%len(brands)], "", 0))
	}
	distinct := map[string]struct{}{}
	for _, it := range items {
		distinct[it.MetaString("brand")] = struct{}{}
	}
	k := len(distinct)
	for req := 1; req <= 25; req++ {
		got := PickDiversified(items, req, MetaKey("brand"))
		want := req
		if want > len(items) {
			want = len(items)
		}
		if len(got) != want {
			t.Fatalf("req=%d 期望 %d 个，实际 %d", req, want, len(got))
		}
		if req <= k {
			seen := map[string]struct{}{}
			for _, it := range got {
				if _, dup := seen[it.MetaString("brand")]; dup {
					t.Fatalf("req=%d 出现重复品牌 %s", req, it.MetaString("brand"))
				}
				seen[it.MetaString("brand")] = struct{}{}
			}
		}
	}
}

func TestSplit_ExploreExploit(t *testing.T) {
	items := []*core.Item{
		drop("1", "levis", "a", 100),
		drop("2", "nike", "b", 120),
		drop("3", "levis", "c", 110),
		drop("4", "gucci", "d", 90),
		drop("5", "levis", "a", 2000),
	}
	// n=4：exploit 3 个（1 2 4），explore 1 个：3 的品牌与档位都已用过，5 的价格档位未用过
	got := Split(items, 4, 0.2)
	if fmt.Sprint(ids(got)) != "[1 2 4 5]" {
		t.Fatalf("切分结果不符: %v", ids(got))
	}
	if _, ok := got[3].Labels["explore"]; !ok {
		t.Fatalf("explore 候选缺少 label")
	}

	// 没有未使用的品牌/档位时用任意剩余候选补齐
	same := []*core.Item{drop("1", "x", "a", 10), drop("2", "x", "a", 10), drop("3", "x", "a", 10)}
	if got := Split(same, 3, 0.2); len(got) != 3 {
		t.Fatalf("期望补齐 3 个，实际 %d", len(got))
	}
}

func TestPriceBand(t *testing.T) {
	cases := map[float64]int{0: -1, 1: 1, 3: 2, 100: 6, 1000: 9}
	for price, want := range cases {
		if got := PriceBand(price); got != want {
			t.Fatalf("PriceBand(%v) 期望 %d，实际 %d", price, want, got)
		}
	}
}

func TestNodesUseContextLimit(t *testing.T) {
	items := []*core.Item{drop("1", "a", "", 0), drop("2", "a", "", 0), drop("3", "b", "", 0)}
	rctx := &core.RecommendContext{Limit: 2}

	out, _ := (&Diversity{Keys: []string{"brand"}}).Process(context.Background(), rctx, items)
	if fmt.Sprint(ids(out)) != "[1 3]" {
		t.Fatalf("Diversity 结果不符: %v", ids(out))
	}
	out, _ = (&TopNNode{}).Process(context.Background(), rctx, items)
	if len(out) != 2 {
		t.Fatalf("TopN 期望 2，实际 %d", len(out))
	}
	out, _ = (&TopNNode{N: 1}).Process(context.Background(), rctx, items)
	if len(out) != 1 {
		t.Fatalf("TopN N=1 期望 1，实际 %d", len(out))
	}
	out, _ = (&ExploreExploit{}).Process(context.Background(), &core.RecommendContext{Limit: 3}, items)
	if len(out) != 3 {
		t.Fatalf("ExploreExploit 期望 3，实际 %d", len(out))
	}
}

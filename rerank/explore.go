package rerank

import (
	"context"
	"math"
	"strconv"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pipeline"
	"github.com/rushteam/dropfeed/pkg/utils"
	"github.com/rushteam/dropfeed/recall"
)

// DefaultExploreRatio 是 explore 部分占比。
const DefaultExploreRatio = 0.2

// PriceBand 返回价格档位 floor(log2(price+1))；价格未知（<=0）返回 -1。
func PriceBand(price float64) int {
	if price <= 0 {
		return -1
	}
	return int(math.Floor(math.Log2(price + 1)))
}

// ExploreExploit 把 n 拆成 exploit（按 brand+shop 多样性）与 explore 两部分：
// explore 优先挑选 brand 或价格档位未被 exploit 用过的候选，不足时用任意剩余候选补齐。
// 结果 exploit 在前。
type ExploreExploit struct {
	Ratio float64
	N     int
}

func (n *ExploreExploit) Name() string        { return "rerank.explore_exploit" }
func (n *ExploreExploit) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *ExploreExploit) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	ratio := n.Ratio
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultExploreRatio
	}
	return Split(items, limitOf(n.N, rctx, len(items)), ratio), nil
}

// Split 执行 explore/exploit 切分。
func Split(items []*core.Item, n int, ratio float64) []*core.Item {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	exploreN := int(math.Round(float64(n) * ratio))
	exploitN := n - exploreN

	exploit := PickDiversified(items, exploitN, MetaKey("brand"), MetaKey("shopSlug"))
	taken := make(map[*core.Item]struct{}, n)
	usedBrands := make(map[string]struct{})
	usedBands := make(map[int]struct{})
	for _, it := range exploit {
		taken[it] = struct{}{}
		if b := core.NormalizeToken(it.MetaString("brand")); b != "" {
			usedBrands[b] = struct{}{}
		}
		usedBands[PriceBand(it.Feature(recall.FeaturePrice))] = struct{}{}
	}

	out := exploit
	for _, it := range items {
		if len(out) == n {
			break
		}
		if _, ok := taken[it]; ok {
			continue
		}
		_, brandUsed := usedBrands[core.NormalizeToken(it.MetaString("brand"))]
		_, bandUsed := usedBands[PriceBand(it.Feature(recall.FeaturePrice))]
		if brandUsed && bandUsed {
			continue
		}
		taken[it] = struct{}{}
		it.PutLabel("explore", utils.Label{Value: "band_" + strconv.Itoa(PriceBand(it.Feature(recall.FeaturePrice))), Source: "rerank"})
		out = append(out, it)
	}
	for _, it := range items {
		if len(out) == n {
			break
		}
		if _, ok := taken[it]; !ok {
			taken[it] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

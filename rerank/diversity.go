// Package rerank 提供打分之后的选择逻辑：多样性挑选、explore/exploit 切分、Top-N 截断。
package rerank

import (
	"context"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pipeline"
)

// KeyFunc 从候选中抽取一个多样性 key；空串表示不参与去重。
type KeyFunc func(it *core.Item) string

// MetaKey 返回读取 Meta 字符串字段（归一化后）的 KeyFunc。
func MetaKey(field string) KeyFunc {
	return func(it *core.Item) string {
		return core.NormalizeToken(it.MetaString(field))
	}
}

// PickDiversified 从已排序的候选中挑选 n 个：
//   - 第一遍按顺序贪心接受所有 key 都未使用过的候选
//   - 第二遍按原顺序从剩余候选中补齐，不再要求 key 唯一
//
// 返回 min(n, len(items)) 个，保持分数顺序（第一遍结果在前）。
func PickDiversified(items []*core.Item, n int, keyFns ...KeyFunc) []*core.Item {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}

	used := make([]map[string]struct{}, len(keyFns))
	for i := range used {
		used[i] = make(map[string]struct{})
	}
	picked := make([]bool, len(items))
	out := make([]*core.Item, 0, n)

	for i, it := range items {
		if len(out) == n {
			break
		}
		keys := make([]string, len(keyFns))
		conflict := false
		for k, fn := range keyFns {
			keys[k] = fn(it)
			if keys[k] == "" {
				continue
			}
			if _, ok := used[k][keys[k]]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for k, key := range keys {
			if key != "" {
				used[k][key] = struct{}{}
			}
		}
		picked[i] = true
		out = append(out, it)
	}

	for i, it := range items {
		if len(out) == n {
			break
		}
		if !picked[i] {
			picked[i] = true
			out = append(out, it)
		}
	}
	return out
}

// Diversity 是多样性重排节点：按 Keys 指定的 Meta 字段做 PickDiversified。
// N <= 0 时使用 rctx.Limit；两者都为 0 时保留全部候选，仅调整顺序。
type Diversity struct {
	Keys []string
	N    int
}

func (n *Diversity) Name() string {
	return "rerank.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *Diversity) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	keyFns := make([]KeyFunc, 0, len(n.Keys))
	for _, k := range n.Keys {
		keyFns = append(keyFns, MetaKey(k))
	}
	return PickDiversified(items, limitOf(n.N, rctx, len(items)), keyFns...), nil
}

func limitOf(n int, rctx *core.RecommendContext, fallback int) int {
	if n > 0 {
		return n
	}
	if rctx != nil && rctx.Limit > 0 {
		return rctx.Limit
	}
	return fallback
}

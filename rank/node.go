package rank

import (
	"context"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pipeline"
	"github.com/rushteam/dropfeed/pkg/utils"
)

// ScoreNode 使用 Scorer 打分并按分数降序排序（同分按 ID 升序）。
// - 写入 labels：algo
// - DropNonPositive 为 true 时丢弃分数 <= 0 的候选
type ScoreNode struct {
	Scorer          Scorer
	DropNonPositive bool
}

func (n *ScoreNode) Name() string        { return n.Scorer.Name() }
func (n *ScoreNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *ScoreNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.Scorer == nil || len(items) == 0 {
		return items, nil
	}
	out := items[:0:0]
	for _, it := range items {
		if it == nil {
			continue
		}
		it.Score = n.Scorer.Score(rctx, it)
		if n.DropNonPositive && it.Score <= 0 {
			continue
		}
		it.PutLabel("algo", utils.Label{Value: string(rctx.Algorithm), Source: "rank"})
		out = append(out, it)
	}
	core.SortByScore(out)
	return out, nil
}

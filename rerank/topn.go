package rerank

import (
	"context"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pipeline"
)

// TopNNode 截取前 N 个候选。
// N <= 0 时使用 rctx.Limit；两者都为 0 时不截断。
type TopNNode struct {
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	limit := limitOf(n.N, rctx, len(items))
	if len(items) <= limit {
		return items, nil
	}
	return items[:limit], nil
}

package builder

import (
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/metrics"
	"github.com/rushteam/dropfeed/pkg/utils"
)

func explain(it *core.Item) string {
	return utils.Explain(it.Labels)
}

func insightItem(rctx *core.RecommendContext, in core.Insight) core.RecItem {
	return core.RecItem{
		Role:       rctx.Role,
		RecType:    rctx.Surface,
		TargetType: core.TargetInsight,
		Explain:    "kind=" + string(in.Kind()),
		Payload:    in.Payload(),
	}
}

// fallbackItem 生成降级条目并计数。
func fallbackItem(rctx *core.RecommendContext, in core.Insight) core.RecItem {
	metrics.FallbackItems.WithLabelValues(string(rctx.Surface), string(in.Kind())).Inc()
	return insightItem(rctx, in)
}

// renumber 把 rank 从 0 开始连续编号。
func renumber(items []core.RecItem) []core.RecItem {
	for i := range items {
		items[i].Rank = i
	}
	return items
}

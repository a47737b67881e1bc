package pipeline

import (
	"context"

	"github.com/rushteam/dropfeed/core"
)

// Kind 用于标记 Node 类型，方便观测/编排（例如按阶段打点）。
type Kind string

const (
	KindFilter Kind = "filter" // 过滤阶段：剔除不符合约束的候选
	KindRank   Kind = "rank"   // 排序阶段：对候选打分并排序
	KindReRank Kind = "rerank" // 重排阶段：多样性/探索/截断
)

// Node 是 Pipeline 的最小可扩展单元。
// 统一采用“输入 items -> 输出 items”的形态。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RecommendContext,
		items []*core.Item,
	) ([]*core.Item, error)
}

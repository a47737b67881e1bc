package filter

import (
	"context"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pkg/dsl"
)

// ExprFilter 使用 CEL 准入表达式：表达式为 false 的候选被过滤。
// 配合 FilterNode{DropOnError: true} 使用时，求值出错（如字段缺失）的候选也被过滤。
type ExprFilter struct {
	Rule *dsl.Rule
}

// NewExprFilter 编译表达式；空表达式返回放行一切的过滤器。
func NewExprFilter(expr string) (*ExprFilter, error) {
	rule, err := dsl.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &ExprFilter{Rule: rule}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	ok, err := f.Rule.Evaluate(item, rctx)
	if err != nil {
		return true, err
	}
	return !ok, nil
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/rushteam/dropfeed/core"
)

// Pipeline 把候选处理拆成可组合的 Node 链。
type Pipeline struct {
	Nodes []Node
}

// New 创建 Pipeline。
func New(nodes ...Node) *Pipeline {
	return &Pipeline{Nodes: nodes}
}

// Run 依次执行各 Node；任一 Node 出错即返回。nil Pipeline 原样返回输入。
func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if p == nil {
		return items, nil
	}
	cur := items
	for _, node := range p.Nodes {
		next, err := node.Process(ctx, rctx, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

// Names 返回各 Node 名称（日志使用）。
func (p *Pipeline) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		names[i] = n.Name()
	}
	return names
}

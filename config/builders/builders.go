// Package builders 在 init 中向 config 注册内置 Node 构建器。
package builders

import (
	"fmt"

	"github.com/rushteam/dropfeed/config"
	"github.com/rushteam/dropfeed/filter"
	"github.com/rushteam/dropfeed/pipeline"
	"github.com/rushteam/dropfeed/pkg/conv"
	"github.com/rushteam/dropfeed/rerank"
)

func init() {
	config.Register("filter.seen", BuildSeenFilterNode)
	config.Register("filter.expr", BuildExprFilterNode)
	config.Register("rerank.diversity", BuildDiversityNode)
	config.Register("rerank.explore_exploit", BuildExploreExploitNode)
	config.Register("rerank.topn", BuildTopNNode)
}

func BuildSeenFilterNode(_ map[string]any) (pipeline.Node, error) {
	return &filter.FilterNode{Filters: []filter.Filter{filter.SeenFilter{}}}, nil
}

func BuildExprFilterNode(cfg map[string]any) (pipeline.Node, error) {
	expr := conv.ConfigGet(cfg, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("filter.expr: expr is required")
	}
	f, err := filter.NewExprFilter(expr)
	if err != nil {
		return nil, err
	}
	return &filter.FilterNode{Filters: []filter.Filter{f}, DropOnError: true}, nil
}

func BuildDiversityNode(cfg map[string]any) (pipeline.Node, error) {
	n, _ := conv.ToInt(cfg["n"])
	return &rerank.Diversity{
		Keys: conv.ConfigGetStrings(cfg, "keys"),
		N:    n,
	}, nil
}

func BuildExploreExploitNode(cfg map[string]any) (pipeline.Node, error) {
	ratio := conv.ConfigGetFloat(cfg, "ratio", rerank.DefaultExploreRatio)
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("rerank.explore_exploit: ratio must be in (0,1), got %v", ratio)
	}
	n, _ := conv.ToInt(cfg["n"])
	return &rerank.ExploreExploit{Ratio: ratio, N: n}, nil
}

func BuildTopNNode(cfg map[string]any) (pipeline.Node, error) {
	n, _ := conv.ToInt(cfg["n"])
	return &rerank.TopNNode{N: n}, nil
}

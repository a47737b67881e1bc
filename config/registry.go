package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/dropfeed/pipeline"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/dropfeed/config/builders"
// 以触发内置 Node（filter.seen、filter.expr、rerank.diversity 等）的 init 注册。

// NodeBuilder 与 pipeline.NodeBuilder 一致：根据 config 构建 Node。
type NodeBuilder = pipeline.NodeBuilder

var (
	defaultBuilders   = make(map[string]NodeBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种 Node 的构建逻辑，供 DefaultFactory 与配置驱动使用。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("rerank.topn", BuildTopNNode) }
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前已注册的 Node 类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultFactory 返回基于当前注册表构建的 NodeFactory。
func DefaultFactory() *pipeline.NodeFactory {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range defaultBuilders {
		f.Register(typeName, builder)
	}
	return f
}

// ValidateNodes 校验所有 node 类型均已注册；若有未支持类型则返回包含已支持列表的错误。
func ValidateNodes(nodes []pipeline.NodeConfig) error {
	supported := SupportedTypes()
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	for _, nc := range nodes {
		if nc.Type == "" {
			continue
		}
		if _, ok := defaultBuilders[nc.Type]; !ok {
			return fmt.Errorf("unsupported node type %q (supported: %v)", nc.Type, supported)
		}
	}
	return nil
}

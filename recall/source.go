// Package recall 从目录存储拉取各 Surface 的原始候选，并在入口处归一化为 core.Item。
package recall

import (
	"context"

	"github.com/rushteam/dropfeed/core"
)

// Batch 是一次召回的结果：归一化后的候选 + 原始行数（诊断计数使用）。
type Batch struct {
	Items []*core.Item
	Raw   int
}

// Source 表示一个召回源。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) (*Batch, error)
}

// normalizeAll 归一化原始行，非法行被静默丢弃，重复 ID 只保留第一次出现。
func normalizeAll(rows []core.RawRow, fn func(core.RawRow) (*core.Item, bool)) *Batch {
	b := &Batch{Raw: len(rows), Items: make([]*core.Item, 0, len(rows))}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		it, ok := fn(row)
		if !ok {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		b.Items = append(b.Items, it)
	}
	return b
}

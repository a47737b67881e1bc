package utils

import (
	"sort"
	"strings"
)

// Label 是推荐链路中的一等公民：可解释、可追踪、可透传。
// Value 与 Source 的语义由业务自定义；这里只提供标准化的合并规则。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // recall / rank / rerank / rule ...
}

// MergeLabel 用于合并同名 Label，遵循“保留历史、可追踪”的默认策略。
// - Value: 以 '|' 累积
// - Source: 以 ',' 累积
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}

	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "":
		merged.Source = existing.Source
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}

// Explain 把 labels 渲染为稳定的 explain 字符串："k=v; k2=v2"（按 key 排序）。
// 只渲染 keys 中列出的 label；keys 为空时渲染全部。
func Explain(labels map[string]Label, keys ...string) string {
	if len(labels) == 0 {
		return ""
	}
	if len(keys) == 0 {
		keys = make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		lbl, ok := labels[k]
		if !ok || lbl.Value == "" {
			continue
		}
		parts = append(parts, k+"="+lbl.Value)
	}
	return strings.Join(parts, "; ")
}

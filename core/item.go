package core

import (
	"sort"
	"time"

	"github.com/rushteam/dropfeed/pkg/utils"
)

// Item 是候选池中的统一承载结构：特征、分数、渲染用 payload、标签。
// Labels 用于解释（explain）；Score 用于排序决策；Meta 是最终下发给客户端的 payload。
type Item struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Features map[string]float64     `json:"features,omitempty"`
	Meta     map[string]any         `json:"meta"`
	Labels   map[string]utils.Label `json:"labels,omitempty"`
}

func NewItem(id string) *Item {
	return &Item{
		ID:       id,
		Score:    0,
		Features: make(map[string]float64),
		Meta:     make(map[string]any),
		Labels:   make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// Clone 复制 Item，Features/Meta/Labels 浅拷贝一层，修改副本不影响缓存中的候选池。
func (it *Item) Clone() *Item {
	out := &Item{
		ID:       it.ID,
		Score:    it.Score,
		Features: make(map[string]float64, len(it.Features)),
		Meta:     make(map[string]any, len(it.Meta)),
		Labels:   make(map[string]utils.Label, len(it.Labels)),
	}
	for k, v := range it.Features {
		out.Features[k] = v
	}
	for k, v := range it.Meta {
		out.Meta[k] = v
	}
	for k, v := range it.Labels {
		out.Labels[k] = v
	}
	return out
}

// MetaString 读取 Meta 中的字符串字段。
func (it *Item) MetaString(key string) string {
	if it.Meta == nil {
		return ""
	}
	s, _ := it.Meta[key].(string)
	return s
}

// MetaStrings 读取 Meta 中的字符串列表字段（兼容 JSON 反序列化后的 []any）。
func (it *Item) MetaStrings(key string) []string {
	if it.Meta == nil {
		return nil
	}
	switch v := it.Meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Feature 读取数值特征，不存在返回 0。
func (it *Item) Feature(key string) float64 {
	if it.Features == nil {
		return 0
	}
	return it.Features[key]
}

// CandidatePool 是一个 (user, surface, algorithm) 的已打分、已排序候选集合，可整体缓存。
type CandidatePool struct {
	Items   []*Item   `json:"items"`
	Raw     int       `json:"raw"` // 原始拉取的候选数（用于诊断计数）
	BuiltAt time.Time `json:"builtAt"`
}

// SortByScore 按分数降序排序；分数相同时按 ID 升序，保证结果确定。
func SortByScore(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}

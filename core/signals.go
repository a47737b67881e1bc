package core

import "strings"

// UserSignals 是从反馈中在线学习得到的用户偏好信号。
//
// 它不是独立持久化的实体，而是由 FeedbackEvent + Impression join 后重新计算，
// 并以较短 TTL 缓存。不变量：
//   - 所有列表字段去重
//   - 顺序反映贡献的新近程度（越新越靠前）
//   - 列表长度有上限
type UserSignals struct {
	LikedBrands    []string `json:"likedBrands"`
	DislikedBrands []string `json:"dislikedBrands"`
	LikedSizes     []string `json:"likedSizes"`
	DislikedSizes  []string `json:"dislikedSizes"`
	LikedShops     []string `json:"likedShops"`
	DislikedShops  []string `json:"dislikedShops"`

	// AvgPrice 是正向反馈的单品平均价格，0 表示未知
	AvgPrice float64 `json:"avgPrice"`

	// 标签是 swipe 卡片的主要打分维度，按频次降序汇总
	LikedTagsTop    []TagCount `json:"likedTagsTop"`
	DislikedTagsTop []TagCount `json:"dislikedTagsTop"`

	// DislikedKinds 是卖家点踩过的洞察类型（seller insights 过滤用）
	DislikedKinds []string `json:"dislikedKinds"`
}

// Empty 返回是否没有任何信号。
func (s *UserSignals) Empty() bool {
	return len(s.LikedBrands)+len(s.DislikedBrands)+len(s.LikedSizes)+len(s.DislikedSizes)+
		len(s.LikedShops)+len(s.DislikedShops)+len(s.LikedTagsTop)+len(s.DislikedTagsTop)+
		len(s.DislikedKinds) == 0 && s.AvgPrice == 0
}

// LikedTagCount 返回标签的正向计数（大小写不敏感），不存在返回 0。
func (s *UserSignals) LikedTagCount(tag string) float64 {
	return tagCount(s.LikedTagsTop, tag)
}

// DislikedTagCount 返回标签的负向计数（大小写不敏感），不存在返回 0。
func (s *UserSignals) DislikedTagCount(tag string) float64 {
	return tagCount(s.DislikedTagsTop, tag)
}

func tagCount(tags []TagCount, tag string) float64 {
	tag = NormalizeToken(tag)
	for _, tc := range tags {
		if tc.Tag == tag {
			return tc.Count
		}
	}
	return 0
}

// Contains 检查 list 中是否包含 v（大小写不敏感）。
func Contains(list []string, v string) bool {
	v = NormalizeToken(v)
	if v == "" {
		return false
	}
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// AppendUnique 追加去重，超过 maxSize 时丢弃新值（先贡献的更新，保留在前）。
func AppendUnique(list []string, v string, maxSize int) []string {
	v = NormalizeToken(v)
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	if maxSize > 0 && len(list) >= maxSize {
		return list
	}
	return append(list, v)
}

// NormalizeToken 统一品牌/尺码/标签等属性的比较形式。
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

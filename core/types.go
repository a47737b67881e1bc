package core

import (
	"strconv"
	"time"
)

// Role 是请求方身份：买家或卖家。
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAuto   Role = "auto" // 仅出现在请求参数中，由 ShopOwnerLookup 解析
)

// Valid 返回 role 是否为已解析的具体角色。
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// TargetType 是推荐条目指向的目标类型。
type TargetType string

const (
	TargetDrop    TargetType = "drop"
	TargetShop    TargetType = "shop"
	TargetInsight TargetType = "insight"
)

// Surface 是一种 Feed 形态，同时作为 impression 的 rec_type。
type Surface string

const (
	SurfaceSwipeCards     Surface = "swipe_cards"
	SurfaceSwipeShops     Surface = "swipe_shops"
	SurfaceDrops          Surface = "drops"
	SurfaceShops          Surface = "shops"
	SurfaceSellerInsights Surface = "seller_insights"
)

// TargetType 返回该 Surface 产出条目的目标类型。
func (s Surface) TargetType() TargetType {
	switch s {
	case SurfaceSwipeShops, SurfaceShops:
		return TargetShop
	case SurfaceDrops:
		return TargetDrop
	default:
		return TargetInsight
	}
}

// Surfaces 返回所有带候选池的 Surface（不含 seller_insights）。
func Surfaces() []Surface {
	return []Surface{SurfaceSwipeCards, SurfaceSwipeShops, SurfaceDrops, SurfaceShops}
}

// Algorithm 是 A/B 实验中的打分算法变体。
type Algorithm string

const (
	AlgoCollaborative Algorithm = "collaborative"
	AlgoVector        Algorithm = "vector"
	AlgoHybrid        Algorithm = "hybrid"
)

// FeedbackKind 是反馈事件类型。
type FeedbackKind string

const (
	FeedbackRating FeedbackKind = "rating"
	FeedbackAction FeedbackKind = "action"
)

// FeedbackEvent 由反馈接口写入，写入后不可变。
type FeedbackEvent struct {
	ID           int64          `json:"id"`
	UserID       string         `json:"userId"`
	ImpressionID string         `json:"impressionId"`
	Kind         FeedbackKind   `json:"kind"`
	Value        float64        `json:"value"`            // rating 的分值
	Action       string         `json:"action,omitempty"` // action 名称（click / save / purchase ...）
	Meta         map[string]any `json:"meta,omitempty"`
	RecVersion   int            `json:"recVersion"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Impression 是一次曝光的持久化记录，只追加。
// TargetID 仅在 target_type=drop 且为规范 UUID 时填写；TargetKey 为任意目标的字符串形式。
type Impression struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Role       Role           `json:"role"`
	RecVersion int            `json:"recVersion"`
	RecType    Surface        `json:"recType"`
	TargetType TargetType     `json:"targetType"`
	TargetID   *string        `json:"targetId"`
	TargetKey  *string        `json:"targetKey"`
	Rank       int            `json:"rank"`
	Explain    string         `json:"explain"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ResolvedFeedback 是反馈事件与其来源曝光 join 之后的结果。
type ResolvedFeedback struct {
	Event      FeedbackEvent
	Impression Impression
}

// RecItem 是 Feed 接口返回的单个条目。
type RecItem struct {
	ImpressionID *string        `json:"impressionId"`
	Role         Role           `json:"role"`
	RecType      Surface        `json:"recType"`
	TargetType   TargetType     `json:"targetType"`
	TargetID     *string        `json:"targetId"`
	Rank         int            `json:"rank"`
	Explain      string         `json:"explain"`
	Payload      map[string]any `json:"payload"`
}

// Key 返回条目的去重 key：targetId，其次 payload.id，最后 rank。
func (it RecItem) Key() string {
	if it.TargetID != nil && *it.TargetID != "" {
		return *it.TargetID
	}
	if it.Payload != nil {
		if id, ok := it.Payload["id"].(string); ok && id != "" {
			return id
		}
	}
	return "rank:" + strconv.Itoa(it.Rank)
}

// TargetKey 返回条目指向目标的字符串形式：targetId，其次 payload.id；纯信息条目返回 nil。
func (it RecItem) TargetKey() *string {
	if it.TargetID != nil && *it.TargetID != "" {
		return it.TargetID
	}
	if it.Payload != nil {
		if id, ok := it.Payload["id"].(string); ok && id != "" {
			return &id
		}
	}
	return nil
}

// TagCount 是标签频次汇总。
type TagCount struct {
	Tag   string  `json:"tag"`
	Count float64 `json:"c"`
}

// StrPtr 返回字符串指针；空串返回 nil。
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

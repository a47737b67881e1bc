package core

import (
	"context"
	"time"
)

// RawRow 是从目录存储中读出的原始候选行。字段形态不统一（例如图片可能在多个列名下），
// 由 recall 包在入口处一次性归一化。
type RawRow map[string]any

// ShopTagCount 是店铺与标签的频次表行。
type ShopTagCount struct {
	ShopSlug  string `json:"shopSlug"`
	ShopName  string `json:"shopName"`
	Tag       string `json:"tag"`
	ItemCount int    `json:"itemCount"`
}

// SavedCombo 是买家收藏行为中 brand+size 组合的计数。
type SavedCombo struct {
	Brand string `json:"brand"`
	Size  string `json:"size"`
	Count int    `json:"count"`
}

// SeenQuery 是已曝光集合的查询条件。
type SeenQuery struct {
	UserID     string
	Role       Role
	TargetType TargetType
	RecVersion int
	RecType    Surface // 可为空，表示不按 rec_type 过滤
}

// InsertedImpression 是批量写入后存储端回传的行：生成的 ID + 自然键 (rank, target_key)。
type InsertedImpression struct {
	ID        string
	Rank      int
	TargetKey *string
}

// ActiveUser 是近期有曝光记录的用户（预热任务使用）。
type ActiveUser struct {
	UserID     string
	Role       Role
	RecVersion int
}

// ImpressionStore 是曝光表的领域接口。
type ImpressionStore interface {
	// InsertImpressions 单次批量写入，返回生成的 ID（回传顺序不保证）
	InsertImpressions(ctx context.Context, rows []Impression) ([]InsertedImpression, error)

	// SeenTargetKeys 返回 since 之后满足条件的 target_key，最多 limit 条
	SeenTargetKeys(ctx context.Context, q SeenQuery, since time.Time, limit int) ([]string, error)

	// GetImpression 按 ID 读取曝光记录，不存在返回 NOT_FOUND
	GetImpression(ctx context.Context, id string) (*Impression, error)

	// ActiveUsers 返回 since 之后有曝光的用户
	ActiveUsers(ctx context.Context, since time.Time, limit int) ([]ActiveUser, error)
}

// FeedbackStore 是反馈事件表的领域接口。
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, ev FeedbackEvent) error

	// RecentFeedback 返回最近 limit 条反馈（新→旧），已与同 role、同 rec_version 的曝光 join
	RecentFeedback(ctx context.Context, userID string, role Role, recVersion int, since time.Time, limit int) ([]ResolvedFeedback, error)
}

// CatalogStore 是候选数据（商品/店铺/卡片）的只读领域接口。
// 商品与店铺的增删改属于外部系统，这里只读取。
type CatalogStore interface {
	ListDrops(ctx context.Context, limit int) ([]RawRow, error)
	ListShops(ctx context.Context, limit int) ([]RawRow, error)
	ListCards(ctx context.Context, limit int) ([]RawRow, error)

	// ShopTagCounts 返回与给定标签相关的店铺-标签频次
	ShopTagCounts(ctx context.Context, tags []string, limit int) ([]ShopTagCount, error)

	// SellerListings 返回卖家自己的商品
	SellerListings(ctx context.Context, sellerID string, limit int) ([]RawRow, error)

	// PeerPrices 返回同 brand/size/condition 的其他卖家商品价格
	PeerPrices(ctx context.Context, brand, size, condition, excludeSeller string, limit int) ([]float64, error)

	// SavedCombos 返回 since 之后买家收藏过的、品牌属于 brands 的 brand+size 组合计数
	SavedCombos(ctx context.Context, brands []string, since time.Time, limit int) ([]SavedCombo, error)
}

// ShopOwnerLookup 判断用户是否为店主（role=auto 时使用）。
type ShopOwnerLookup interface {
	IsShopOwner(ctx context.Context, userID string) (bool, error)
}

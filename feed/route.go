package feed

import "github.com/rushteam/dropfeed/core"

const (
	DefaultLimit = 10
	MaxLimit     = 30

	StreamCards = "cards"
	StreamShops = "shops"
)

// DefaultVersion 返回角色的默认 Feed 版本：买家 2，卖家 1。
func DefaultVersion(role core.Role) int {
	if role == core.RoleSeller {
		return 1
	}
	return 2
}

// ResolveVersion 只接受 1 或 2，其余取角色默认值。
func ResolveVersion(role core.Role, v int) int {
	if v == 1 || v == 2 {
		return v
	}
	return DefaultVersion(role)
}

// ClampLimit 把 limit 限制在 [1, MaxLimit]，非正数取默认值。
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Route 把 (role, version, stream) 映射到 Surface。
//
//	buyer  v2 cards(默认) -> swipe_cards
//	buyer  v2 shops       -> swipe_shops
//	buyer  v1 shops       -> shops
//	buyer  v1 其他         -> drops
//	seller 任意            -> seller_insights
func Route(role core.Role, v int, stream string) core.Surface {
	if role == core.RoleSeller {
		return core.SurfaceSellerInsights
	}
	if v == 2 {
		if stream == StreamShops {
			return core.SurfaceSwipeShops
		}
		return core.SurfaceSwipeCards
	}
	if stream == StreamShops {
		return core.SurfaceShops
	}
	return core.SurfaceDrops
}

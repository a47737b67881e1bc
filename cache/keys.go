package cache

import (
	"fmt"

	"github.com/rushteam/dropfeed/core"
)

// PoolKey 是候选池的缓存 key。
func PoolKey(surface core.Surface, algo core.Algorithm, recVersion int, role core.Role, userID string) string {
	return fmt.Sprintf("feed:pool:%s:%s:v%d:%s:%s", surface, algo, recVersion, role, userID)
}

// SignalsKey 是用户信号的缓存 key。
func SignalsKey(userID string, role core.Role, recVersion int) string {
	return fmt.Sprintf("feed:signals:%s:%s:v%d", userID, role, recVersion)
}

// SeenResetKey 是 reset-seen 标记的缓存 key。
func SeenResetKey(userID string, role core.Role, target core.TargetType, recVersion int, recType core.Surface) string {
	return fmt.Sprintf("feed:seen_reset:%s:%s:%s:v%d:%s", userID, role, target, recVersion, recType)
}

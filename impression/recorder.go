// Package impression 把一次 Feed 响应写为曝光记录，并把生成的 ID 回填到条目上。
//
// 写入是尽力而为的：失败时条目照常返回，只是 impressionId 为 null。
package impression

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/metrics"
)

// Meta 是一次响应共享的曝光字段。
type Meta struct {
	UserID     string
	Role       core.Role
	RecVersion int
}

// Recorder 负责曝光的批量写入与 ID 回填。
type Recorder struct {
	store   core.ImpressionStore
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder 创建 Recorder；timeout <= 0 时使用 2s。
func NewRecorder(store core.ImpressionStore, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{store: store, timeout: timeout, now: time.Now}
}

// Record 单次批量写入全部条目，按 (rank, target_key) 把生成的 ID 关联回条目。
// 写入失败时返回的条目 ImpressionID 全部为 nil。
func (r *Recorder) Record(ctx context.Context, meta Meta, items []core.RecItem) []core.RecItem {
	out := make([]core.RecItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].ImpressionID = nil
	}
	if len(out) == 0 {
		return out
	}

	now := r.now()
	rows := make([]core.Impression, len(out))
	for i, it := range out {
		rows[i] = core.Impression{
			UserID:     meta.UserID,
			Role:       meta.Role,
			RecVersion: meta.RecVersion,
			RecType:    it.RecType,
			TargetType: it.TargetType,
			TargetID:   CanonicalTargetID(it),
			TargetKey:  it.TargetKey(),
			Rank:       it.Rank,
			Explain:    it.Explain,
			Payload:    it.Payload,
			CreatedAt:  now,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	inserted, err := r.store.InsertImpressions(ctx, rows)
	metrics.RecordImpressionWrite(err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int("items", len(rows)).Msg("impression insert failed")
		return out
	}

	ids := make(map[string]string, len(inserted))
	for _, row := range inserted {
		ids[joinKey(row.Rank, row.TargetKey)] = row.ID
	}
	for i := range out {
		if id, ok := ids[joinKey(out[i].Rank, out[i].TargetKey())]; ok {
			id := id
			out[i].ImpressionID = &id
		}
	}
	return out
}

// CanonicalTargetID 只在 drop 条目且 ID 为规范 UUID 形式时返回 target_id。
func CanonicalTargetID(it core.RecItem) *string {
	if it.TargetType != core.TargetDrop || it.TargetID == nil {
		return nil
	}
	u, err := uuid.Parse(*it.TargetID)
	if err != nil {
		return nil
	}
	canonical := u.String()
	if canonical != *it.TargetID {
		return nil
	}
	return &canonical
}

func joinKey(rank int, targetKey *string) string {
	k := strconv.Itoa(rank) + "|"
	if targetKey != nil {
		k += *targetKey
	}
	return k
}

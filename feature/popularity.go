package feature

import (
	"context"
	"time"

	"github.com/rushteam/dropfeed/feast"
	"github.com/rushteam/dropfeed/logging"
)

// PopularitySource 提供候选的热度特征。返回的 map 只包含取到值的 ID。
type PopularitySource interface {
	Popularity(ctx context.Context, ids []string) map[string]float64
}

// FeastPopularity 从 Feast 在线特征读取热度，例如 "drop_stats:popularity"。
// 任何错误都返回空 map，由调用方回退到存储中的值。
type FeastPopularity struct {
	client    feast.Client
	feature   string
	entityKey string
	timeout   time.Duration
}

// NewFeastPopularity 创建 Feast 热度源。entityKey 是实体列名（如 "drop_id"）。
func NewFeastPopularity(client feast.Client, feature, entityKey string, timeout time.Duration) *FeastPopularity {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &FeastPopularity{client: client, feature: feature, entityKey: entityKey, timeout: timeout}
}

func (p *FeastPopularity) Popularity(ctx context.Context, ids []string) map[string]float64 {
	out := make(map[string]float64, len(ids))
	if p == nil || p.client == nil || len(ids) == 0 {
		return out
	}

	rows := make([]map[string]any, len(ids))
	for i, id := range ids {
		rows[i] = map[string]any{p.entityKey: id}
	}

	qctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.client.GetOnlineFeatures(qctx, &feast.GetOnlineFeaturesRequest{
		Features:   []string{p.feature},
		EntityRows: rows,
	})
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("feature", p.feature).Msg("feast popularity unavailable")
		return out
	}
	for i, fv := range resp.FeatureVectors {
		if i >= len(ids) {
			break
		}
		if v, ok := fv.Values[p.feature]; ok {
			out[ids[i]] = v
		}
	}
	return out
}

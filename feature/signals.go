package feature

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/pkg/conv"
)

// DefaultActionWeights 是 action 反馈的默认权重表。
var DefaultActionWeights = map[string]float64{
	"click":    1,
	"save":     2,
	"purchase": 3,
	"skip":     -1,
	"hide":     -2,
	"report":   -3,
}

// SignalOptions 是信号聚合参数。
type SignalOptions struct {
	Lookback        time.Duration      // 默认 30 天
	MaxEvents       int                // 默认 200
	TTL             time.Duration      // 缓存 TTL，默认 5 分钟
	MaxListLen      int                // 列表上限，默认 20
	TopTags         int                // 标签 top-N，默认 10
	MaxRatingWeight float64            // rating 权重上限，默认 3
	ActionWeights   map[string]float64 // 为空时使用 DefaultActionWeights
	Timeout         time.Duration      // 存储查询超时，默认 2s
}

func (o SignalOptions) withDefaults() SignalOptions {
	if o.Lookback <= 0 {
		o.Lookback = 30 * 24 * time.Hour
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 200
	}
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.MaxListLen <= 0 {
		o.MaxListLen = 20
	}
	if o.TopTags <= 0 {
		o.TopTags = 10
	}
	if o.MaxRatingWeight <= 0 {
		o.MaxRatingWeight = 3
	}
	if len(o.ActionWeights) == 0 {
		o.ActionWeights = DefaultActionWeights
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// SignalAggregator 从近期反馈中在线计算用户偏好信号，带短 TTL 缓存。
type SignalAggregator struct {
	store core.FeedbackStore
	cache *cache.Cache
	opts  SignalOptions
	now   func() time.Time
}

func NewSignalAggregator(store core.FeedbackStore, c *cache.Cache, opts SignalOptions) *SignalAggregator {
	return &SignalAggregator{store: store, cache: c, opts: opts.withDefaults(), now: time.Now}
}

// Signals 返回用户信号，从不失败：存储出错时返回空信号（且不缓存）。
func (a *SignalAggregator) Signals(ctx context.Context, userID string, role core.Role, recVersion int) *core.UserSignals {
	key := cache.SignalsKey(userID, role, recVersion)
	if a.cache != nil {
		var cached core.UserSignals
		if a.cache.GetJSON(ctx, key, &cached) {
			return &cached
		}
	}

	qctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	events, err := a.store.RecentFeedback(qctx, userID, role, recVersion, a.now().Add(-a.opts.Lookback), a.opts.MaxEvents)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("role", string(role)).Int("v", recVersion).Msg("signals degraded to empty")
		return &core.UserSignals{}
	}

	signals := Aggregate(events, a.opts)
	if a.cache != nil {
		a.cache.SetJSONAsync(ctx, key, a.opts.TTL, signals)
	}
	return signals
}

// Invalidate 删除用户信号缓存（写入反馈后调用）。并发请求在反馈落库前聚合出的旧信号
// 可能晚于删除写回，所以等一个查询超时加异步写超时后再补删一次。
func (a *SignalAggregator) Invalidate(ctx context.Context, userID string, role core.Role, recVersion int) {
	if a.cache != nil {
		a.cache.Invalidate(ctx, cache.SignalsKey(userID, role, recVersion), a.opts.Timeout)
	}
}

// Weight 返回单条反馈的带符号权重；0 表示忽略。
func Weight(ev core.FeedbackEvent, opts SignalOptions) float64 {
	opts = opts.withDefaults()
	switch ev.Kind {
	case core.FeedbackRating:
		if ev.Value == 0 || math.IsNaN(ev.Value) {
			return 0
		}
		return math.Copysign(math.Min(math.Abs(ev.Value), opts.MaxRatingWeight), ev.Value)
	case core.FeedbackAction:
		return opts.ActionWeights[core.NormalizeToken(ev.Action)]
	}
	return 0
}

type tagAcc struct {
	count float64
	first int // 首次出现的事件序号，越小越新
}

// Aggregate 将已 join 的反馈（新→旧）聚合为用户信号。
func Aggregate(events []core.ResolvedFeedback, opts SignalOptions) *core.UserSignals {
	opts = opts.withDefaults()
	var (
		s         core.UserSignals
		liked     = map[string]*tagAcc{}
		disliked  = map[string]*tagAcc{}
		priceSum  float64
		priceWSum float64
	)

	for i, rf := range events {
		w := Weight(rf.Event, opts)
		if w == 0 {
			continue
		}
		payload := rf.Impression.Payload
		positive := w > 0

		switch rf.Impression.TargetType {
		case core.TargetDrop:
			brand := conv.FirstString(payload, "brand")
			size := conv.FirstString(payload, "size")
			shop := conv.FirstString(payload, "shopSlug", "shop_slug")
			if positive {
				s.LikedBrands = core.AppendUnique(s.LikedBrands, brand, opts.MaxListLen)
				s.LikedSizes = core.AppendUnique(s.LikedSizes, size, opts.MaxListLen)
				s.LikedShops = core.AppendUnique(s.LikedShops, shop, opts.MaxListLen)
				if price, ok := conv.FirstFloat(payload, "price"); ok && price > 0 {
					priceSum += price * w
					priceWSum += w
				}
			} else {
				s.DislikedBrands = core.AppendUnique(s.DislikedBrands, brand, opts.MaxListLen)
				s.DislikedSizes = core.AppendUnique(s.DislikedSizes, size, opts.MaxListLen)
				s.DislikedShops = core.AppendUnique(s.DislikedShops, shop, opts.MaxListLen)
			}

		case core.TargetShop:
			slug := conv.FirstString(payload, "slug", "shopSlug", "id")
			if slug == "" && rf.Impression.TargetKey != nil {
				slug = *rf.Impression.TargetKey
			}
			if positive {
				s.LikedShops = core.AppendUnique(s.LikedShops, slug, opts.MaxListLen)
			} else {
				s.DislikedShops = core.AppendUnique(s.DislikedShops, slug, opts.MaxListLen)
			}

		case core.TargetInsight:
			tags, _ := conv.StringList(payload["tags"])
			bucket := liked
			if !positive {
				bucket = disliked
			}
			for _, tag := range tags {
				tag = core.NormalizeToken(tag)
				if tag == "" {
					continue
				}
				acc, ok := bucket[tag]
				if !ok {
					acc = &tagAcc{first: i}
					bucket[tag] = acc
				}
				acc.count += math.Abs(w)
			}
			kind := core.KindOf(payload)
			if !positive && kind != "" && kind != core.KindSwipeCard {
				s.DislikedKinds = core.AppendUnique(s.DislikedKinds, string(kind), opts.MaxListLen)
			}
		}
	}

	if priceWSum > 0 {
		s.AvgPrice = priceSum / priceWSum
	}
	s.LikedTagsTop = topTags(liked, opts.TopTags)
	s.DislikedTagsTop = topTags(disliked, opts.TopTags)
	return &s
}

func topTags(acc map[string]*tagAcc, n int) []core.TagCount {
	if len(acc) == 0 {
		return nil
	}
	type entry struct {
		tag string
		*tagAcc
	}
	list := make([]entry, 0, len(acc))
	for tag, a := range acc {
		list = append(list, entry{tag, a})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		if list[i].first != list[j].first {
			return list[i].first < list[j].first
		}
		return list[i].tag < list[j].tag
	})
	if len(list) > n {
		list = list[:n]
	}
	out := make([]core.TagCount, len(list))
	for i, e := range list {
		out[i] = core.TagCount{Tag: e.tag, Count: e.count}
	}
	return out
}

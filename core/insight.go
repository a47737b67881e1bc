package core

import (
	"fmt"
	"strings"
)

// InsightKind 是信息类条目的机器可读类型。
type InsightKind string

const (
	KindNoCards             InsightKind = "no_cards"
	KindCooldown            InsightKind = "cooldown"
	KindNoCandidates        InsightKind = "no_candidates"
	KindNeedMoreSwipes      InsightKind = "need_more_swipes"
	KindUnavailable         InsightKind = "unavailable"
	KindSwipeSummary        InsightKind = "swipe_summary"
	KindTrendBrands         InsightKind = "trend_brands"
	KindTrendSizes          InsightKind = "trend_sizes"
	KindSavedCombos         InsightKind = "saved_combos"
	KindPriceHint           InsightKind = "price_hint"
	KindOnboardingChecklist InsightKind = "onboarding_checklist"
	KindMarketMedian        InsightKind = "market_median"
	KindQualityTips         InsightKind = "quality_tips"

	// KindSwipeCard 是 swipe 卡片本身的 payload kind（不是信息类条目）
	KindSwipeCard InsightKind = "swipe_card"
)

// Insight 是信息类条目的和类型（sum type）。
// 线上格式仍是通用 payload 信封 {kind, title, body, ...}，以兼容客户端。
type Insight interface {
	Kind() InsightKind
	Payload() map[string]any
}

// Counters 是降级条目携带的诊断计数。
type Counters struct {
	Raw          int  `json:"raw"`      // 原始候选数
	Pool         int  `json:"pool"`     // 打分后池大小
	Seen         int  `json:"seen"`     // 已曝光集合大小
	Filtered     int  `json:"filtered"` // 过滤后剩余
	SeenDegraded bool `json:"seenDegraded,omitempty"`
}

func (c Counters) toMap() map[string]any {
	m := map[string]any{"raw": c.Raw, "pool": c.Pool, "seen": c.Seen, "filtered": c.Filtered}
	if c.SeenDegraded {
		m["seenDegraded"] = true
	}
	return m
}

func envelope(kind InsightKind, title, body string) map[string]any {
	return map[string]any{"kind": string(kind), "title": title, "body": body}
}

type NoCards struct{ Counters Counters }

func (NoCards) Kind() InsightKind { return KindNoCards }
func (v NoCards) Payload() map[string]any {
	p := envelope(KindNoCards, "No cards yet", "There are no cards to swipe right now. Check back soon.")
	p["debug"] = v.Counters.toMap()
	return p
}

type Cooldown struct{ Counters Counters }

func (Cooldown) Kind() InsightKind { return KindCooldown }
func (v Cooldown) Payload() map[string]any {
	p := envelope(KindCooldown, "You're all caught up", "You've seen everything we have for you. Reset or come back later.")
	p["debug"] = v.Counters.toMap()
	return p
}

type NoCandidates struct {
	Hint     string
	Counters Counters
}

func (NoCandidates) Kind() InsightKind { return KindNoCandidates }
func (v NoCandidates) Payload() map[string]any {
	p := envelope(KindNoCandidates, "Nothing to show", "No listings are available right now.")
	p["hint"] = v.Hint
	p["debug"] = v.Counters.toMap()
	return p
}

type NeedMoreSwipes struct{ Hint string }

func (NeedMoreSwipes) Kind() InsightKind { return KindNeedMoreSwipes }
func (v NeedMoreSwipes) Payload() map[string]any {
	p := envelope(KindNeedMoreSwipes, "Swipe a few more", "Like some cards so we can suggest shops you'll love.")
	p["hint"] = v.Hint
	return p
}

// Unavailable 表示上游数据错误被降级。
type Unavailable struct {
	Hint     string
	Counters Counters
}

func (Unavailable) Kind() InsightKind { return KindUnavailable }
func (v Unavailable) Payload() map[string]any {
	p := envelope(KindUnavailable, "Feed is taking a break", "We couldn't load recommendations. Pull to refresh.")
	p["hint"] = v.Hint
	p["debug"] = v.Counters.toMap()
	return p
}

type SwipeSummary struct{ Tags []TagCount }

func (SwipeSummary) Kind() InsightKind { return KindSwipeSummary }
func (v SwipeSummary) Payload() map[string]any {
	names := make([]string, 0, len(v.Tags))
	for _, t := range v.Tags {
		names = append(names, t.Tag)
	}
	p := envelope(KindSwipeSummary, "Your taste so far", "You keep liking "+strings.Join(names, ", ")+".")
	p["tags"] = v.Tags
	return p
}

// Freq 是属性频次。
type Freq struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type TrendBrands struct{ Brands []Freq }

func (TrendBrands) Kind() InsightKind { return KindTrendBrands }
func (v TrendBrands) Payload() map[string]any {
	p := envelope(KindTrendBrands, "Trending brands", "These brands dominate the top of the feed right now.")
	p["items"] = v.Brands
	return p
}

type TrendSizes struct{ Sizes []Freq }

func (TrendSizes) Kind() InsightKind { return KindTrendSizes }
func (v TrendSizes) Payload() map[string]any {
	p := envelope(KindTrendSizes, "Sizes in demand", "Top-ranked listings are mostly in these sizes.")
	p["items"] = v.Sizes
	return p
}

type SavedCombos struct{ Combos []SavedCombo }

func (SavedCombos) Kind() InsightKind { return KindSavedCombos }
func (v SavedCombos) Payload() map[string]any {
	p := envelope(KindSavedCombos, "What buyers save", "Buyers of listings like yours tend to save these combinations.")
	p["items"] = v.Combos
	return p
}

type PriceHint struct {
	ListingID string
	Title     string
	Price     float64
	Median    float64
	Deviation float64 // (price - median) / median
}

func (PriceHint) Kind() InsightKind { return KindPriceHint }
func (v PriceHint) Payload() map[string]any {
	direction := "above"
	if v.Deviation < 0 {
		direction = "below"
	}
	pct := v.Deviation * 100
	if pct < 0 {
		pct = -pct
	}
	p := envelope(KindPriceHint, "Price check",
		fmt.Sprintf("%q is priced %.0f%% %s similar listings (median %.2f).", v.Title, pct, direction, v.Median))
	p["id"] = v.ListingID
	p["price"] = v.Price
	p["median"] = v.Median
	p["deviation"] = v.Deviation
	p["direction"] = direction
	return p
}

type OnboardingChecklist struct{ Steps []string }

func (OnboardingChecklist) Kind() InsightKind { return KindOnboardingChecklist }
func (v OnboardingChecklist) Payload() map[string]any {
	p := envelope(KindOnboardingChecklist, "Get your shop going", "A few steps to your first sale.")
	p["steps"] = v.Steps
	return p
}

type MarketMedian struct {
	Median float64
	Sample int
}

func (MarketMedian) Kind() InsightKind { return KindMarketMedian }
func (v MarketMedian) Payload() map[string]any {
	p := envelope(KindMarketMedian, "Market snapshot", fmt.Sprintf("The median listing price right now is %.2f.", v.Median))
	p["median"] = v.Median
	p["sample"] = v.Sample
	return p
}

type QualityTips struct{ Tips []string }

func (QualityTips) Kind() InsightKind { return KindQualityTips }
func (v QualityTips) Payload() map[string]any {
	p := envelope(KindQualityTips, "Listing quality tips", "Small changes that help listings rank higher.")
	p["tips"] = v.Tips
	return p
}

// KindOf 从 payload 信封中读取 kind。
func KindOf(payload map[string]any) InsightKind {
	if payload == nil {
		return ""
	}
	s, _ := payload["kind"].(string)
	return InsightKind(s)
}

package feed

import (
	"context"
	"strings"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/metrics"
)

// RecordRating 写入评分反馈。事件沿用曝光自身的 rec_version，保证信号聚合能 join 上。
func (s *Service) RecordRating(ctx context.Context, userID, impressionID string, rating float64) error {
	return s.record(ctx, userID, impressionID, core.FeedbackEvent{
		Kind:  core.FeedbackRating,
		Value: rating,
	})
}

// RecordAction 写入行为反馈（click / save / purchase / skip / hide / report ...）。
func (s *Service) RecordAction(ctx context.Context, userID, impressionID, action string, meta map[string]any) error {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		return core.NewDomainError(core.ModuleFeed, core.ErrorCodeInvalidInput, "action is required")
	}
	return s.record(ctx, userID, impressionID, core.FeedbackEvent{
		Kind:   core.FeedbackAction,
		Action: action,
		Meta:   meta,
	})
}

func (s *Service) record(ctx context.Context, userID, impressionID string, ev core.FeedbackEvent) error {
	imp, err := s.Impressions.GetImpression(ctx, impressionID)
	if err != nil {
		return err
	}
	// 不属于当前用户的曝光按不存在处理
	if imp.UserID != userID {
		return core.NewDomainError(core.ModuleImpression, core.ErrorCodeNotFound, "impression "+impressionID+" not found")
	}

	ev.UserID = userID
	ev.ImpressionID = imp.ID
	ev.RecVersion = imp.RecVersion
	ev.CreatedAt = s.Now()
	if err := s.Feedback.InsertFeedback(ctx, ev); err != nil {
		return err
	}
	metrics.FeedbackEvents.WithLabelValues(string(ev.Kind)).Inc()
	s.Signals.Invalidate(ctx, userID, imp.Role, imp.RecVersion)
	return nil
}

package feed

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/metrics"
)

// Warmer 按 cron 计划为近期活跃用户预热候选池。
type Warmer struct {
	svc      *Service
	window   time.Duration
	maxUsers int
	cron     *cron.Cron
}

func NewWarmer(svc *Service, window time.Duration, maxUsers int) *Warmer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if maxUsers <= 0 {
		maxUsers = 500
	}
	return &Warmer{
		svc:      svc,
		window:   window,
		maxUsers: maxUsers,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start 注册计划并启动调度。
func (w *Warmer) Start(schedule string) error {
	if _, err := w.cron.AddFunc(schedule, func() {
		_, _ = w.RunOnce(context.Background(), "cron")
	}); err != nil {
		return err
	}
	w.cron.Start()
	logging.Info().Str("schedule", schedule).Msg("pool warmer started")
	return nil
}

// Stop 停止调度并等待正在执行的任务结束。
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
}

// streamsFor 返回某个 (role, version) 下有候选池的所有 stream。
func streamsFor(role core.Role, v int) []string {
	if role == core.RoleSeller {
		return nil
	}
	if v == 2 {
		return []string{StreamCards, StreamShops}
	}
	return []string{"drops", StreamShops}
}

// RunOnce 为 active_window 内有曝光的用户预热全部候选池，返回成功预热的池数量。
func (w *Warmer) RunOnce(ctx context.Context, trigger string) (int, error) {
	users, err := w.svc.Impressions.ActiveUsers(ctx, w.svc.Now().Add(-w.window), w.maxUsers)
	if err != nil {
		metrics.WarmRuns.WithLabelValues(trigger, "error").Inc()
		logging.Warn().Err(err).Str("trigger", trigger).Msg("warm: active users unavailable")
		return 0, err
	}

	warmed := 0
	for _, u := range users {
		for _, stream := range streamsFor(u.Role, u.RecVersion) {
			if ctx.Err() != nil {
				metrics.WarmRuns.WithLabelValues(trigger, "canceled").Inc()
				return warmed, ctx.Err()
			}
			_, err := w.svc.Warm(ctx, WarmRequest{UserID: u.UserID, Role: u.Role, Version: u.RecVersion, Stream: stream})
			if err != nil {
				logging.Debug().Err(err).Str("user_id", u.UserID).Str("stream", stream).Msg("warm failed")
				continue
			}
			warmed++
		}
	}
	metrics.WarmRuns.WithLabelValues(trigger, "ok").Inc()
	logging.Info().Str("trigger", trigger).Int("users", len(users)).Int("pools", warmed).Msg("warm run finished")
	return warmed, nil
}

// Package feed 编排一次 Feed 请求：角色/版本解析 -> 分桶 -> 信号与已曝光集合并发获取 ->
// 构建条目 -> 写曝光。同时承载反馈写入、reset-seen 与缓存预热。
package feed

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/dropfeed/bucket"
	"github.com/rushteam/dropfeed/builder"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/feature"
	"github.com/rushteam/dropfeed/filter"
	"github.com/rushteam/dropfeed/impression"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/metrics"
)

// Request 是 Feed 请求参数（已通过认证）。
type Request struct {
	UserID  string
	Role    core.Role // buyer / seller / auto，空值视为 auto
	Limit   int
	Version int
	Stream  string
}

// Response 是 Feed 响应。
type Response struct {
	OK         bool           `json:"ok"`
	Role       core.Role      `json:"role"`
	RecVersion int            `json:"recVersion"`
	Algorithm  core.Algorithm `json:"algorithm"`
	ABGroup    string         `json:"abGroup"`
	Items      []core.RecItem `json:"items"`

	// SeenDegraded 为 true 时曝光记录读取失败，本次结果未排除已看过的条目
	SeenDegraded bool `json:"seenDegraded,omitempty"`
}

// Deps 是 Service 的依赖。
type Deps struct {
	Owners      core.ShopOwnerLookup
	Impressions core.ImpressionStore
	Feedback    core.FeedbackStore
	Signals     *feature.SignalAggregator
	Seen        *filter.SeenSet
	Builders    *builder.Builders
	Recorder    *impression.Recorder
	Now         func() time.Time
}

// Service 是 Feed 引擎的入口。
type Service struct {
	Deps
}

func NewService(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{Deps: deps}
}

// ResolveRole 解析 auto：店主为 seller，否则为 buyer；查询失败按 buyer 处理。
func (s *Service) ResolveRole(ctx context.Context, userID string, role core.Role) core.Role {
	if role.Valid() {
		return role
	}
	if s.Owners == nil {
		return core.RoleBuyer
	}
	owner, err := s.Owners.IsShopOwner(ctx, userID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("shop owner lookup failed, assuming buyer")
		return core.RoleBuyer
	}
	if owner {
		return core.RoleSeller
	}
	return core.RoleBuyer
}

// prepare 构建请求上下文并并发获取信号与已曝光集合。
func (s *Service) prepare(ctx context.Context, userID string, role core.Role, v int, stream string, limit int, withSeen bool) *core.RecommendContext {
	assign := bucket.Assign(userID)
	rctx := &core.RecommendContext{
		UserID:     userID,
		Role:       role,
		RecVersion: v,
		Surface:    Route(role, v, stream),
		Algorithm:  assign.Algorithm,
		ABGroup:    assign.Name,
		Limit:      limit,
		Seen:       map[string]struct{}{},
		Params:     map[string]any{"stream": stream},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rctx.Signals = s.Signals.Signals(gctx, userID, role, v)
		return nil
	})
	if withSeen && rctx.Surface != core.SurfaceSellerInsights {
		g.Go(func() error {
			rctx.Seen, rctx.SeenDegraded = s.Seen.Compute(gctx, core.SeenQuery{
				UserID:     userID,
				Role:       role,
				TargetType: rctx.Surface.TargetType(),
				RecVersion: v,
				RecType:    rctx.Surface,
			})
			return nil
		})
	}
	_ = g.Wait()
	return rctx
}

// Feed 生成并记录一次 Feed 响应。除缺少用户外不会返回错误：数据问题都以降级条目呈现。
func (s *Service) Feed(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "missing user")
	}
	start := s.Now()
	role := s.ResolveRole(ctx, req.UserID, req.Role)
	v := ResolveVersion(role, req.Version)
	rctx := s.prepare(ctx, req.UserID, role, v, req.Stream, ClampLimit(req.Limit), true)

	items := s.Builders.Build(ctx, rctx)
	items = s.Recorder.Record(ctx, impression.Meta{UserID: req.UserID, Role: role, RecVersion: v}, items)

	metrics.RecordFeed(string(rctx.Surface), string(rctx.Algorithm), s.Now().Sub(start))
	logging.Ctx(ctx).Debug().
		Str("surface", string(rctx.Surface)).
		Str("algorithm", string(rctx.Algorithm)).
		Int("items", len(items)).
		Int("seen", len(rctx.Seen)).
		Bool("seen_degraded", rctx.SeenDegraded).
		Msg("feed served")

	return &Response{
		OK:         true,
		Role:       role,
		RecVersion: v,
		Algorithm:  rctx.Algorithm,
		ABGroup:    rctx.ABGroup,
		Items:      items,

		SeenDegraded: rctx.SeenDegraded,
	}, nil
}

// WarmRequest 是预热请求。
type WarmRequest struct {
	UserID  string
	Role    core.Role
	Version int
	Stream  string
}

// WarmResult 是预热结果。
type WarmResult struct {
	Surface   core.Surface   `json:"surface"`
	Algorithm core.Algorithm `json:"algorithm"`
	PoolSize  int            `json:"poolSize"`
}

// Warm 构建并缓存候选池，不计算已曝光集合、不写曝光。seller 没有候选池，直接返回。
func (s *Service) Warm(ctx context.Context, req WarmRequest) (*WarmResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, core.NewDomainError(core.ModuleFeed, core.ErrorCodeInvalidInput, "userId is required")
	}
	role := s.ResolveRole(ctx, req.UserID, req.Role)
	v := ResolveVersion(role, req.Version)
	rctx := s.prepare(ctx, req.UserID, role, v, req.Stream, MaxLimit, false)

	res := &WarmResult{Surface: rctx.Surface, Algorithm: rctx.Algorithm}
	if rctx.Surface == core.SurfaceSellerInsights {
		return res, nil
	}
	n, err := s.Builders.Warm(ctx, rctx)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFeed, core.ErrorCodeUnavailable, "warm pool", err)
	}
	res.PoolSize = n
	return res, nil
}

// ResetSeen 为 scope 写入 reset 标记；scope 为空时视为 all。
func (s *Service) ResetSeen(ctx context.Context, userID string, role core.Role, v int, scope filter.Scope) error {
	if scope == "" {
		scope = filter.ScopeAll
	}
	role = s.ResolveRole(ctx, userID, role)
	return s.Seen.Reset(ctx, userID, role, ResolveVersion(role, v), scope)
}

// Package server 暴露 Feed 引擎的 HTTP 接口（chi 路由、JWT 认证、请求校验）。
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/feed"
)

// Pinger 是健康检查依赖。
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Options 是 Server 的配置。
type Options struct {
	JWTSecret     string
	InternalToken string
	Cache         *cache.Cache // 可为 nil，仅用于健康检查中的熔断器状态
	Pingers       []Pinger
}

// Server 持有路由依赖。
type Server struct {
	svc      *feed.Service
	opts     Options
	validate *validator.Validate
}

func New(svc *feed.Service, opts Options) *Server {
	return &Server{svc: svc, opts: opts, validate: validator.New()}
}

// Routes 返回完整的路由树。
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(AccessLog)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/feed", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleFeed)
		r.Post("/feedback/rating", s.handleRating)
		r.Post("/feedback/action", s.handleAction)
		r.Post("/reset-seen", s.handleResetSeen)
	})
	r.Route("/internal/feed", func(r chi.Router) {
		r.Use(s.internalOnly)
		r.Post("/warm", s.handleWarm)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.Pingers))
	for _, p := range s.opts.Pingers {
		if err := p.Ping(ctx); err != nil {
			checks[p.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[p.Name()] = "ok"
	}
	body := map[string]any{"ok": status == http.StatusOK, "checks": checks}
	if s.opts.Cache != nil {
		body["cacheBreaker"] = s.opts.Cache.BreakerState()
	}
	writeJSON(w, status, body)
}

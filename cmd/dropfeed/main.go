// Command dropfeed 启动 Feed 引擎 HTTP 服务。
//
//	dropfeed -config dropfeed.yaml [-seed fixtures.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/dropfeed/builder"
	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/config"
	_ "github.com/rushteam/dropfeed/config/builders"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/feast"
	"github.com/rushteam/dropfeed/feature"
	"github.com/rushteam/dropfeed/feed"
	"github.com/rushteam/dropfeed/filter"
	"github.com/rushteam/dropfeed/impression"
	"github.com/rushteam/dropfeed/logging"
	"github.com/rushteam/dropfeed/server"
	"github.com/rushteam/dropfeed/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("DROPFEED_CONFIG"), "path to YAML config")
	seedPath := flag.String("seed", "", "optional catalog fixtures YAML to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	lc := logging.DefaultConfig()
	lc.Level, lc.Format = cfg.Logging.Level, cfg.Logging.Format
	logging.Init(lc)

	if err := run(cfg, *seedPath); err != nil {
		logging.Fatal().Err(err).Msg("dropfeed exited")
	}
}

func run(cfg *config.Config, seedPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenSQL(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if seedPath != "" {
		if err := seed(ctx, db, seedPath); err != nil {
			return err
		}
	}

	primary, pingers := openPrimary(cfg)
	defer primary.Close()
	pingers = append(pingers, db)

	c := cache.New(primary, db, cache.Options{
		OpTimeout:       cfg.Cache.OpTimeout,
		AsyncTimeout:    cfg.Cache.AsyncTimeout,
		BreakerFailures: cfg.Cache.BreakerFailures,
		BreakerOpenFor:  cfg.Cache.BreakerOpenFor,
	})
	defer c.Wait()

	var popularity feature.PopularitySource
	if cfg.Feast.Endpoint != "" {
		var opts []feast.ClientOption
		if cfg.Feast.Timeout > 0 {
			opts = append(opts, feast.WithTimeout(cfg.Feast.Timeout))
		}
		if cfg.Feast.Token != "" {
			opts = append(opts, feast.WithToken(cfg.Feast.Token, true))
		}
		fc, err := feast.NewClient(cfg.Feast.Endpoint, cfg.Feast.Project, opts...)
		if err != nil {
			logging.Warn().Err(err).Str("endpoint", cfg.Feast.Endpoint).Msg("feast unavailable, using stored popularity")
		} else {
			defer fc.Close()
			popularity = feature.NewFeastPopularity(fc, cfg.Feast.Feature, cfg.Feast.EntityKey, cfg.Feast.Timeout)
		}
	}

	builders, err := builder.New(builder.Options{
		Catalog:    db,
		Cache:      c,
		Popularity: popularity,
		Weights:    cfg.Weights,
		Surfaces:   cfg.Surfaces,
	})
	if err != nil {
		return err
	}

	svc := feed.NewService(feed.Deps{
		Owners:      db,
		Impressions: db,
		Feedback:    db,
		Signals: feature.NewSignalAggregator(db, c, feature.SignalOptions{
			Lookback:      cfg.Signals.Lookback,
			MaxEvents:     cfg.Signals.MaxEvents,
			TTL:           cfg.Signals.TTL,
			ActionWeights: cfg.Signals.ActionWeights,
		}),
		Seen:     filter.NewSeenSet(db, c, filter.SeenOptions{Lookback: cfg.Seen.Lookback, Limit: cfg.Seen.Limit}),
		Builders: builders,
		Recorder: impression.NewRecorder(db, cfg.Impression.Timeout),
	})

	if cfg.Warm.Schedule != "" {
		w := feed.NewWarmer(svc, cfg.Warm.ActiveWindow, cfg.Warm.MaxUsers)
		if err := w.Start(cfg.Warm.Schedule); err != nil {
			return err
		}
		defer w.Stop()
	}

	go purgeLoop(ctx, db, cfg.Cache.PurgeEvery)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(svc, server.Options{
			JWTSecret:     cfg.Auth.JWTSecret,
			InternalToken: cfg.Auth.InternalToken,
			Cache:         c,
			Pingers:       pingers,
		}).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("dropfeed listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openPrimary 返回缓存主通道：配置了 Redis 时使用 Redis，否则使用进程内存。
func openPrimary(cfg *config.Config) (core.Store, []server.Pinger) {
	if cfg.Redis.Addr == "" {
		return store.NewMemoryStore(), nil
	}
	rs, err := store.NewRedisStore(store.RedisOptions{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  time.Second,
		ReadTimeout:  cfg.Cache.OpTimeout,
		WriteTimeout: cfg.Cache.OpTimeout,
	})
	if err != nil {
		// 缓存层会熔断并回落到 sqlite 兜底，不阻止启动
		logging.Warn().Err(err).Msg("redis unreachable at startup")
	}
	return rs, []server.Pinger{rs}
}

func seed(ctx context.Context, db *store.SQLStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f store.Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	if err := db.Seed(ctx, f); err != nil {
		return err
	}
	logging.Info().Int("drops", len(f.Drops)).Int("shops", len(f.Shops)).Int("cards", len(f.Cards)).Msg("catalog seeded")
	return nil
}

func purgeLoop(ctx context.Context, db *store.SQLStore, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := db.PurgeExpiredCache(ctx, now)
			if err != nil {
				logging.Warn().Err(err).Msg("purge expired cache rows")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("rows", n).Msg("purged expired cache rows")
			}
		}
	}
}

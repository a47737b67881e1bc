// Package config 负责应用配置（YAML + 环境变量覆盖）与 Node 构建器注册表。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/pipeline"
	"github.com/rushteam/dropfeed/pkg/dsl"
	"github.com/rushteam/dropfeed/rank"
)

// Config 是 dropfeed 进程的完整配置。
type Config struct {
	Server     ServerConfig                   `yaml:"server"`
	Auth       AuthConfig                     `yaml:"auth"`
	Redis      RedisConfig                    `yaml:"redis"`
	SQLite     SQLiteConfig                   `yaml:"sqlite"`
	Cache      CacheConfig                    `yaml:"cache"`
	Feast      FeastConfig                    `yaml:"feast"`
	Signals    SignalsConfig                  `yaml:"signals"`
	Seen       SeenConfig                     `yaml:"seen"`
	Impression ImpressionConfig               `yaml:"impression"`
	Surfaces   map[core.Surface]SurfaceConfig `yaml:"surfaces"`
	Weights    rank.Weights                   `yaml:"weights"`
	Warm       WarmConfig                     `yaml:"warm"`
	Logging    LoggingConfig                  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	InternalToken string `yaml:"internal_token"` // 为空时 /internal 接口全部拒绝
}

// RedisConfig 中 Addr 为空时使用进程内 MemoryStore 作为缓存主通道。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	OpTimeout       time.Duration `yaml:"op_timeout"`
	AsyncTimeout    time.Duration `yaml:"async_timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
	PurgeEvery      time.Duration `yaml:"purge_every"` // 持久化缓存表过期行清理周期
}

// FeastConfig 中 Endpoint 为空表示不启用 Feast 热度特征。
type FeastConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Project   string        `yaml:"project"`
	Feature   string        `yaml:"feature"`
	EntityKey string        `yaml:"entity_key"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
}

type SignalsConfig struct {
	Lookback      time.Duration      `yaml:"lookback"`
	MaxEvents     int                `yaml:"max_events"`
	TTL           time.Duration      `yaml:"ttl"`
	ActionWeights map[string]float64 `yaml:"action_weights"`
}

type SeenConfig struct {
	Lookback time.Duration `yaml:"lookback"`
	Limit    int           `yaml:"limit"`
}

type ImpressionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SurfaceConfig 是单个 Surface 的候选池配置。
type SurfaceConfig struct {
	Eligibility  string                `yaml:"eligibility"`   // CEL 准入表达式
	Nodes        []pipeline.NodeConfig `yaml:"nodes"`         // 重排 Node 链
	TTL          time.Duration         `yaml:"ttl"`
	RawLimit     int                   `yaml:"raw_limit"`
	BuildTimeout time.Duration         `yaml:"build_timeout"` // 一次候选池构建（召回 + 打分）的总时长上限
}

// DefaultBuildTimeout 是候选池构建的默认超时。
const DefaultBuildTimeout = 5 * time.Second

type WarmConfig struct {
	Schedule     string        `yaml:"schedule"` // cron 表达式，为空不启用定时预热
	ActiveWindow time.Duration `yaml:"active_window"`
	MaxUsers     int           `yaml:"max_users"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultSurfaces 返回各 Surface 的默认配置。
func DefaultSurfaces() map[core.Surface]SurfaceConfig {
	return map[core.Surface]SurfaceConfig{
		core.SurfaceSwipeCards: {
			Eligibility:  `size(item.meta.tags) > 0`,
			Nodes:        []pipeline.NodeConfig{{Type: "rerank.diversity", Config: map[string]any{"keys": []any{"shopSlug"}}}},
			TTL:          15 * time.Minute,
			RawLimit:     400,
			BuildTimeout: DefaultBuildTimeout,
		},
		core.SurfaceSwipeShops: {
			Nodes:        []pipeline.NodeConfig{{Type: "rerank.topn"}},
			TTL:          30 * time.Minute,
			RawLimit:     400,
			BuildTimeout: DefaultBuildTimeout,
		},
		core.SurfaceDrops: {
			Eligibility:  `item.meta.image != ""`,
			Nodes:        []pipeline.NodeConfig{{Type: "rerank.explore_exploit", Config: map[string]any{"ratio": 0.2}}},
			TTL:          30 * time.Minute,
			RawLimit:     400,
			BuildTimeout: DefaultBuildTimeout,
		},
		core.SurfaceShops: {
			Nodes:        []pipeline.NodeConfig{{Type: "rerank.topn"}},
			TTL:          time.Hour,
			RawLimit:     400,
			BuildTimeout: DefaultBuildTimeout,
		},
	}
}

// Default 返回全部默认值（不含 jwt_secret）。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		SQLite: SQLiteConfig{Path: "dropfeed.db"},
		Cache: CacheConfig{
			OpTimeout:       150 * time.Millisecond,
			AsyncTimeout:    2 * time.Second,
			BreakerFailures: 5,
			BreakerOpenFor:  30 * time.Second,
			PurgeEvery:      10 * time.Minute,
		},
		Feast: FeastConfig{
			Feature:   "drop_stats:popularity",
			EntityKey: "drop_id",
			Timeout:   300 * time.Millisecond,
		},
		Signals: SignalsConfig{
			Lookback:  30 * 24 * time.Hour,
			MaxEvents: 200,
			TTL:       5 * time.Minute,
		},
		Seen: SeenConfig{
			Lookback: 14 * 24 * time.Hour,
			Limit:    4000,
		},
		Impression: ImpressionConfig{Timeout: 2 * time.Second},
		Surfaces:   DefaultSurfaces(),
		Weights:    rank.DefaultWeights(),
		Warm: WarmConfig{
			ActiveWindow: 24 * time.Hour,
			MaxUsers:     500,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load 读取 YAML 配置文件；path 为空时只使用默认值与环境变量。
// 顺序：默认值 -> 文件 -> DROPFEED_* 环境变量 -> 补齐缺省 -> 校验。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("DROPFEED_ADDR", c.Server.Addr)
	c.Auth.JWTSecret = getEnv("DROPFEED_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.InternalToken = getEnv("DROPFEED_INTERNAL_TOKEN", c.Auth.InternalToken)
	c.Redis.Addr = getEnv("DROPFEED_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("DROPFEED_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("DROPFEED_REDIS_DB", c.Redis.DB)
	c.SQLite.Path = getEnv("DROPFEED_SQLITE_PATH", c.SQLite.Path)
	c.Feast.Endpoint = getEnv("DROPFEED_FEAST_ENDPOINT", c.Feast.Endpoint)
	c.Feast.Token = getEnv("DROPFEED_FEAST_TOKEN", c.Feast.Token)
	c.Warm.Schedule = getEnv("DROPFEED_WARM_SCHEDULE", c.Warm.Schedule)
	c.Logging.Level = getEnv("DROPFEED_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("DROPFEED_LOG_FORMAT", c.Logging.Format)
}

// applyDefaults 补齐 YAML 中显式置零或部分给出的 Surface 配置。
func (c *Config) applyDefaults() {
	defaults := DefaultSurfaces()
	if c.Surfaces == nil {
		c.Surfaces = defaults
		return
	}
	for s, d := range defaults {
		sc, ok := c.Surfaces[s]
		if !ok {
			c.Surfaces[s] = d
			continue
		}
		if sc.TTL <= 0 {
			sc.TTL = d.TTL
		}
		if sc.RawLimit <= 0 {
			sc.RawLimit = d.RawLimit
		}
		if sc.BuildTimeout <= 0 {
			sc.BuildTimeout = d.BuildTimeout
		}
		if sc.Nodes == nil {
			sc.Nodes = d.Nodes
		}
		c.Surfaces[s] = sc
	}
}

// Surface 返回某个 Surface 的配置，未配置时返回默认值。
func (c *Config) Surface(s core.Surface) SurfaceConfig {
	if sc, ok := c.Surfaces[s]; ok {
		return sc
	}
	return DefaultSurfaces()[s]
}

// Validate 检查必填项、Surface 名称、CEL 表达式、Node 类型与 cron 表达式。
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if c.Cache.OpTimeout <= 0 || c.Cache.AsyncTimeout <= 0 {
		return fmt.Errorf("cache timeouts must be positive")
	}
	if c.Seen.Lookback <= 0 || c.Seen.Limit <= 0 {
		return fmt.Errorf("seen.lookback and seen.limit must be positive")
	}
	known := make(map[core.Surface]bool)
	for _, s := range core.Surfaces() {
		known[s] = true
	}
	for s, sc := range c.Surfaces {
		if !known[s] {
			return fmt.Errorf("surfaces: unknown surface %q", s)
		}
		if _, err := dsl.Compile(sc.Eligibility); err != nil {
			return fmt.Errorf("surfaces.%s.eligibility: %w", s, err)
		}
		if err := ValidateNodes(sc.Nodes); err != nil {
			return fmt.Errorf("surfaces.%s.nodes: %w", s, err)
		}
	}
	if c.Warm.Schedule != "" {
		if _, err := cron.ParseStandard(c.Warm.Schedule); err != nil {
			return fmt.Errorf("warm.schedule: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

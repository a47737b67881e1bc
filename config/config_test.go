package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rushteam/dropfeed/config"
	_ "github.com/rushteam/dropfeed/config/builders"
	"github.com/rushteam/dropfeed/core"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dropfeed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写配置失败: %v", err)
	}
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeFile(t, `
auth:
  jwt_secret: s3cret
redis:
  addr: localhost:6379
surfaces:
  drops:
    ttl: 10m
    build_timeout: 3s
    eligibility: 'item.features.price > 0.0'
weights:
  drop_brand: 7
warm:
  schedule: "*/15 * * * *"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis.addr 不符: %q", cfg.Redis.Addr)
	}
	drops := cfg.Surface(core.SurfaceDrops)
	if drops.TTL != 10*time.Minute || drops.RawLimit != 400 {
		t.Fatalf("drops 配置不符: %+v", drops)
	}
	if len(drops.Nodes) != 1 || drops.Nodes[0].Type != "rerank.explore_exploit" {
		t.Fatalf("drops 默认 nodes 未补齐: %+v", drops.Nodes)
	}
	if drops.BuildTimeout != 3*time.Second {
		t.Fatalf("drops build_timeout 不符: %v", drops.BuildTimeout)
	}
	if shops := cfg.Surface(core.SurfaceShops); shops.TTL != time.Hour || shops.BuildTimeout != config.DefaultBuildTimeout {
		t.Fatalf("shops 默认值不符: %+v", shops)
	}
	if cfg.Weights.DropBrand != 7 || cfg.Weights.DropSize != 3 {
		t.Fatalf("weights 合并不符: %+v", cfg.Weights)
	}
	if cfg.Cache.OpTimeout != 150*time.Millisecond {
		t.Fatalf("cache.op_timeout 默认值不符: %v", cfg.Cache.OpTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DROPFEED_JWT_SECRET", "from-env")
	t.Setenv("DROPFEED_SQLITE_PATH", "/tmp/x.db")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.SQLite.Path != "/tmp/x.db" {
		t.Fatalf("环境变量未生效: %+v", cfg.Auth)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"缺少 jwt_secret", `server: {addr: ":1"}`},
		{"未知 surface", "auth: {jwt_secret: x}\nsurfaces:\n  videos: {ttl: 1m}\n"},
		{"非法表达式", "auth: {jwt_secret: x}\nsurfaces:\n  drops: {eligibility: 'item.meta.('}\n"},
		{"未注册 node", "auth: {jwt_secret: x}\nsurfaces:\n  drops:\n    nodes: [{type: rank.lr}]\n"},
		{"非法 cron", "auth: {jwt_secret: x}\nwarm: {schedule: 'every day'}\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv("DROPFEED_JWT_SECRET", "")
			if _, err := config.Load(writeFile(t, c.body)); err == nil {
				t.Fatalf("期望校验失败")
			}
		})
	}
}

func TestDefaultFactory_BuildsRegisteredNodes(t *testing.T) {
	f := config.DefaultFactory()
	for _, typ := range []string{"filter.seen", "filter.expr", "rerank.diversity", "rerank.explore_exploit", "rerank.topn"} {
		cfg := map[string]any{}
		if typ == "filter.expr" {
			cfg["expr"] = "item.score > 0.0"
		}
		node, err := f.Build(typ, cfg)
		if err != nil || node == nil {
			t.Fatalf("构建 %s 失败: %v", typ, err)
		}
	}
	if _, err := f.Build("filter.expr", map[string]any{}); err == nil {
		t.Fatalf("filter.expr 缺少 expr 应报错")
	}
}

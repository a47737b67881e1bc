package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rushteam/dropfeed/cache"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/store"
)

type fakeImpressions struct {
	keys      []string
	err       error
	lastSince time.Time
	lastQuery core.SeenQuery
	lastLimit int
}

func (f *fakeImpressions) InsertImpressions(context.Context, []core.Impression) ([]core.InsertedImpression, error) {
	return nil, nil
}

func (f *fakeImpressions) SeenTargetKeys(_ context.Context, q core.SeenQuery, since time.Time, limit int) ([]string, error) {
	f.lastSince, f.lastQuery, f.lastLimit = since, q, limit
	return f.keys, f.err
}

func (f *fakeImpressions) GetImpression(context.Context, string) (*core.Impression, error) {
	return nil, core.NewDomainError(core.ModuleImpression, core.ErrorCodeNotFound, "not found")
}

func (f *fakeImpressions) ActiveUsers(context.Context, time.Time, int) ([]core.ActiveUser, error) {
	return nil, nil
}

func newTestSeenSet(t *testing.T, imp core.ImpressionStore) (*SeenSet, *cache.Cache, time.Time) {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	c := cache.New(mem, nil, cache.Options{})
	s := NewSeenSet(imp, c, SeenOptions{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, c, now
}

var cardsQuery = core.SeenQuery{UserID: "u1", Role: core.RoleBuyer, TargetType: core.TargetInsight, RecVersion: 2, RecType: core.SurfaceSwipeCards}

func TestSeenSet_Compute(t *testing.T) {
	imp := &fakeImpressions{keys: []string{"c1", "c2", "c1"}}
	s, _, now := newTestSeenSet(t, imp)

	seen, degraded := s.Compute(context.Background(), cardsQuery)
	if len(seen) != 2 || degraded {
		t.Fatalf("seen = %v, degraded = %v", seen, degraded)
	}
	if _, ok := seen["c1"]; !ok {
		t.Error("c1 应在已曝光集合中")
	}
	if !imp.lastSince.Equal(now.Add(-14 * 24 * time.Hour)) {
		t.Errorf("默认窗口应为 14 天, since = %v", imp.lastSince)
	}
	if imp.lastLimit != 4000 {
		t.Errorf("limit = %d", imp.lastLimit)
	}
}

func TestSeenSet_StoreErrorIsDegraded(t *testing.T) {
	s, _, _ := newTestSeenSet(t, &fakeImpressions{err: errors.New("timeout")})
	seen, degraded := s.Compute(context.Background(), cardsQuery)
	if len(seen) != 0 {
		t.Fatalf("存储出错应返回空集合, got %v", seen)
	}
	if !degraded {
		t.Fatal("存储出错时应标记 degraded")
	}

	s, _, _ = newTestSeenSet(t, &fakeImpressions{})
	if _, degraded := s.Compute(context.Background(), cardsQuery); degraded {
		t.Fatal("没有曝光记录不是降级")
	}
}

func TestSeenSet_ResetNarrowsWindow(t *testing.T) {
	ctx := context.Background()
	imp := &fakeImpressions{}
	s, c, now := newTestSeenSet(t, imp)

	if err := s.Reset(ctx, "u1", core.RoleBuyer, 2, ScopeCards); err != nil {
		t.Fatalf("Reset 失败: %v", err)
	}
	s.Compute(ctx, cardsQuery)
	if !imp.lastSince.Equal(now) {
		t.Fatalf("reset 后窗口起点应为 reset_at, since = %v", imp.lastSince)
	}

	// 其他 surface 不受影响
	s.Compute(ctx, core.SeenQuery{UserID: "u1", Role: core.RoleBuyer, TargetType: core.TargetDrop, RecVersion: 1, RecType: core.SurfaceDrops})
	if imp.lastSince.Equal(now) {
		t.Fatal("cards 的 reset 不应影响 drops")
	}

	// 早于 14 天下限的标记不会扩大窗口
	old := ResetMarker{ResetAt: now.Add(-30 * 24 * time.Hour)}
	c.SetJSON(ctx, cache.SeenResetKey("u1", core.RoleBuyer, core.TargetInsight, 2, core.SurfaceSwipeCards), time.Hour, old)
	s.Compute(ctx, cardsQuery)
	if !imp.lastSince.Equal(now.Add(-14 * 24 * time.Hour)) {
		t.Fatalf("窗口不应早于 14 天下限, since = %v", imp.lastSince)
	}
}

func TestSeenSet_ResetScopes(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestSeenSet(t, &fakeImpressions{})

	if err := s.Reset(ctx, "u1", core.RoleBuyer, 1, ScopeShops); err != nil {
		t.Fatalf("Reset 失败: %v", err)
	}
	for _, surface := range []core.Surface{core.SurfaceSwipeShops, core.SurfaceShops} {
		var m ResetMarker
		if !c.GetJSON(ctx, cache.SeenResetKey("u1", core.RoleBuyer, core.TargetShop, 1, surface), &m) {
			t.Errorf("%s 应写入 reset 标记", surface)
		}
	}

	err := s.Reset(ctx, "u1", core.RoleBuyer, 1, Scope("everything"))
	if !core.IsInvalidInput(err) {
		t.Fatalf("未知 scope 应返回 INVALID_INPUT, got %v", err)
	}
}

func TestSeenFilterNode(t *testing.T) {
	rctx := &core.RecommendContext{Seen: map[string]struct{}{"a": {}}}
	node := &FilterNode{Filters: []Filter{SeenFilter{}}}
	out, err := node.Process(context.Background(), rctx, []*core.Item{core.NewItem("a"), core.NewItem("b"), nil})
	if err != nil {
		t.Fatalf("Process 失败: %v", err)
	}
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("out = %v", out)
	}
}

func TestExprFilter(t *testing.T) {
	f, err := NewExprFilter(`item.meta.image != ""`)
	if err != nil {
		t.Fatalf("编译失败: %v", err)
	}
	withImage := core.NewItem("a")
	withImage.Meta["image"] = "https://img/a"
	emptyImage := core.NewItem("b")
	emptyImage.Meta["image"] = ""
	missing := core.NewItem("c")

	node := &FilterNode{Filters: []Filter{f}, DropOnError: true}
	out, _ := node.Process(context.Background(), &core.RecommendContext{}, []*core.Item{withImage, emptyImage, missing})
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("out = %v", out)
	}

	allow, _ := NewExprFilter("")
	drop, err := allow.ShouldFilter(context.Background(), nil, missing)
	if err != nil || drop {
		t.Fatalf("空表达式应放行, got %v, %v", drop, err)
	}
}

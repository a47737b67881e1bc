package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rushteam/dropfeed/builder"
	"github.com/rushteam/dropfeed/cache"
	_ "github.com/rushteam/dropfeed/config/builders"
	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/feature"
	"github.com/rushteam/dropfeed/feed"
	"github.com/rushteam/dropfeed/filter"
	"github.com/rushteam/dropfeed/impression"
	"github.com/rushteam/dropfeed/rank"
	"github.com/rushteam/dropfeed/store"
)

const (
	testSecret   = "test-secret"
	testInternal = "internal-token"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQL(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	err = db.Seed(ctx, store.Fixtures{
		Cards: []store.CardFixture{
			{ID: "A", ImageURL: "a.jpg", Tags: []string{"denim"}, Popularity: 5},
			{ID: "B", ImageURL: "b.jpg", Tags: []string{"leather"}, Popularity: 4},
		},
	})
	if err != nil {
		t.Fatalf("写入种子数据失败: %v", err)
	}
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	c := cache.New(mem, db, cache.Options{})
	b, err := builder.New(builder.Options{Catalog: db, Cache: c, Weights: rank.DefaultWeights()})
	if err != nil {
		t.Fatalf("创建 builders 失败: %v", err)
	}
	svc := feed.NewService(feed.Deps{
		Owners:      db,
		Impressions: db,
		Feedback:    db,
		Signals:     feature.NewSignalAggregator(db, c, feature.SignalOptions{}),
		Seen:        filter.NewSeenSet(db, c, filter.SeenOptions{}),
		Builders:    b,
		Recorder:    impression.NewRecorder(db, time.Second),
	})
	return New(svc, Options{
		JWTSecret:     testSecret,
		InternalToken: testInternal,
		Cache:         c,
		Pingers:       []Pinger{db},
	}).Routes()
}

func token(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("签发 token 失败: %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("编码请求体失败: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFeedRequiresAuth(t *testing.T) {
	h := newTestServer(t)
	tests := []struct {
		name   string
		bearer string
	}{
		{"缺少 token", ""},
		{"签名错误", token(t, "other-secret", "u1")},
		{"缺少 sub", token(t, testSecret, "")},
		{"格式错误", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/v1/feed", tt.bearer, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("期望 401，实际 %d", rec.Code)
			}
		})
	}
}

func TestFeedAndFeedbackFlow(t *testing.T) {
	h := newTestServer(t)
	bearer := token(t, testSecret, "buyer-1")

	// 非法参数回落到默认值，不返回 400
	rec := do(t, h, http.MethodGet, "/api/v1/feed?role=buyer&limit=abc&v=9", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("响应应带 X-Request-ID")
	}
	var resp feed.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !resp.OK || resp.Role != core.RoleBuyer || resp.RecVersion != 2 {
		t.Fatalf("响应头字段不符: %+v", resp)
	}
	var impressionID string
	for _, it := range resp.Items {
		if core.KindOf(it.Payload) == core.KindSwipeCard && it.ImpressionID != nil {
			impressionID = *it.ImpressionID
			break
		}
	}
	if impressionID == "" {
		t.Fatalf("应返回带曝光 ID 的卡片: %+v", resp.Items)
	}

	rating := 2.0
	rec = do(t, h, http.MethodPost, "/api/v1/feed/feedback/rating", bearer, map[string]any{"impressionId": impressionID, "rating": rating})
	if rec.Code != http.StatusOK {
		t.Fatalf("评分期望 200，实际 %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/feed/feedback/action", token(t, testSecret, "intruder"),
		map[string]any{"impressionId": impressionID, "action": "save"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("他人曝光期望 404，实际 %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/feed/reset-seen", bearer, map[string]any{"role": "buyer", "scope": "cards"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-seen 期望 200，实际 %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFeedbackValidation(t *testing.T) {
	h := newTestServer(t)
	bearer := token(t, testSecret, "buyer-1")
	tests := []struct {
		name string
		path string
		body any
	}{
		{"缺少 rating", "/api/v1/feed/feedback/rating", map[string]any{"impressionId": "x"}},
		{"rating 越界", "/api/v1/feed/feedback/rating", map[string]any{"impressionId": "x", "rating": 10}},
		{"缺少 action", "/api/v1/feed/feedback/action", map[string]any{"impressionId": "x"}},
		{"非法 scope", "/api/v1/feed/reset-seen", map[string]any{"scope": "everything"}},
		{"非法 JSON", "/api/v1/feed/feedback/action", "not-an-object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, bearer, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("期望 400，实际 %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestWarmRequiresInternalToken(t *testing.T) {
	h := newTestServer(t)
	body := map[string]any{"userId": "buyer-1", "role": "buyer", "v": 2}

	rec := do(t, h, http.MethodPost, "/internal/feed/warm", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少内部 token 期望 401，实际 %d", rec.Code)
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/internal/feed/warm", &buf)
	req.Header.Set(headerInternalToken, testInternal)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("预热期望 200，实际 %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		OK     bool            `json:"ok"`
		Result feed.WarmResult `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if out.Result.Surface != core.SurfaceSwipeCards || out.Result.PoolSize != 2 {
		t.Fatalf("预热结果不符: %+v", out.Result)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.NewDomainError(core.ModuleFeed, core.ErrorCodeNotFound, "x"), http.StatusNotFound},
		{core.NewDomainError(core.ModuleFeed, core.ErrorCodeInvalidInput, "x"), http.StatusBadRequest},
		{core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "x"), http.StatusUnauthorized},
		{core.NewDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "x"), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusOf(tt.err); got != tt.want {
			t.Fatalf("%v: 期望 %d，实际 %d", tt.err, tt.want, got)
		}
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/dropfeed/core"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Get(ctx, "missing"); !core.IsStoreNotFound(err) {
		t.Fatalf("不存在的 key 应返回 ErrStoreNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set 失败: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !core.IsStoreNotFound(err) {
		t.Fatalf("删除后应返回 ErrStoreNotFound, got %v", err)
	}
}

func TestMemoryStore_DurableCacheReturnsExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	past := time.Now().Add(-time.Minute)
	if err := s.PutCache(ctx, "k", []byte("v"), past); err != nil {
		t.Fatalf("PutCache 失败: %v", err)
	}
	// 过期判断由调用方完成，GetCache 原样返回
	payload, exp, err := s.GetCache(ctx, "k")
	if err != nil {
		t.Fatalf("GetCache 失败: %v", err)
	}
	if string(payload) != "v" || !exp.Equal(past) {
		t.Fatalf("GetCache = %q, %v", payload, exp)
	}
	// 作为 KV 读取时已过期
	if _, err := s.Get(ctx, "k"); !core.IsStoreNotFound(err) {
		t.Fatalf("过期 key 应返回 ErrStoreNotFound, got %v", err)
	}
}

func TestMemoryStore_SetCopiesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf, 60)
	buf[0] = 'x'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("存储的值不应被调用方修改, got %q", got)
	}
}

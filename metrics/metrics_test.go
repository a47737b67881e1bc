package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCache(t *testing.T) {
	before := testutil.ToFloat64(CacheOps.WithLabelValues("redis", "get", "hit"))
	RecordCache("redis", "get", "hit")
	after := testutil.ToFloat64(CacheOps.WithLabelValues("redis", "get", "hit"))
	if after-before != 1 {
		t.Fatalf("计数应加 1, before=%v after=%v", before, after)
	}
}

func TestRecordPoolBuild(t *testing.T) {
	okBefore := testutil.ToFloat64(PoolBuilds.WithLabelValues("drops", "ok"))
	errBefore := testutil.ToFloat64(PoolBuilds.WithLabelValues("drops", "error"))

	RecordPoolBuild("drops", 12, nil)
	RecordPoolBuild("drops", 0, errors.New("boom"))

	if got := testutil.ToFloat64(PoolBuilds.WithLabelValues("drops", "ok")) - okBefore; got != 1 {
		t.Errorf("ok 计数 = %v", got)
	}
	if got := testutil.ToFloat64(PoolBuilds.WithLabelValues("drops", "error")) - errBefore; got != 1 {
		t.Errorf("error 计数 = %v", got)
	}
}

func TestRecordImpressionWrite(t *testing.T) {
	before := testutil.ToFloat64(ImpressionWrites.WithLabelValues("error"))
	RecordImpressionWrite(errors.New("db down"))
	if got := testutil.ToFloat64(ImpressionWrites.WithLabelValues("error")) - before; got != 1 {
		t.Fatalf("error 计数 = %v", got)
	}
	RecordFeed("drops", "hybrid", 10*time.Millisecond)
}

package extract

import (
	"context"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

func TestCachedGradeItemSource_MissFetchThenHit(t *testing.T) {
	base := &stubGradeItems{items: map[string]GradeItem{"i1": {ID: "i1", ItemName: "Unit 1", GradeMax: 100}}}
	source, err := NewCachedGradeItemSource(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached source: %v", err)
	}

	item, found, err := source.GradeItem(context.Background(), "i1")
	if err != nil || !found || item.ItemName != "Unit 1" {
		t.Fatalf("first lookup: item=%+v found=%v err=%v", item, found, err)
	}
	if _, _, err := source.GradeItem(context.Background(), "i1"); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected second lookup to be a cache hit, base calls=%d", base.calls)
	}

	base.items["i1"] = GradeItem{ID: "i1", ItemName: "Unit 1 (renamed)", GradeMax: 100}
	if err := source.Invalidate(context.Background(), "i1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	item, _, err = source.GradeItem(context.Background(), "i1")
	if err != nil || item.ItemName != "Unit 1 (renamed)" {
		t.Fatalf("expected refreshed item after invalidate, got %+v err=%v", item, err)
	}
	if base.calls != 2 {
		t.Fatalf("expected refetch after invalidate, base calls=%d", base.calls)
	}
}

func TestGradeItemCacheKey(t *testing.T) {
	key, err := GradeItemCacheKey(" 42/a ")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "crmsync::grade_item::v1::42%2Fa" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := GradeItemCacheKey(" "); err == nil {
		t.Fatalf("expected empty id to fail")
	}
}

func newTestCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const gradeItemCacheKeyPrefix = "crmsync::grade_item::v1"

// CachedGradeItemSource is a read-through cache in front of the host's grade
// item lookup. Grade items change rarely and every grade event reads one.
type CachedGradeItemSource struct {
	base  GradeItemSource
	cache repositorycache.CacheService
}

type cachedGradeItem struct {
	Item  GradeItem
	Found bool
}

func NewCachedGradeItemSource(
	base GradeItemSource,
	cacheService repositorycache.CacheService,
) (*CachedGradeItemSource, error) {
	if base == nil {
		return nil, fmt.Errorf("extract: base grade item source is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("extract: grade item cache service is required")
	}
	return &CachedGradeItemSource{base: base, cache: cacheService}, nil
}

// GradeItemCacheKey returns crmsync::grade_item::v1::<id> with the id
// URL-path escaped.
func GradeItemCacheKey(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("extract: grade item id is required")
	}
	return gradeItemCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedGradeItemSource) GradeItem(ctx context.Context, id string) (GradeItem, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return GradeItem{}, false, fmt.Errorf("extract: cached grade item source is not configured")
	}
	cacheKey, err := GradeItemCacheKey(id)
	if err != nil {
		return GradeItem{}, false, err
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedGradeItem, error) {
		item, found, fetchErr := s.base.GradeItem(ctx, strings.TrimSpace(id))
		if fetchErr != nil {
			return cachedGradeItem{}, fetchErr
		}
		return cachedGradeItem{Item: item, Found: found}, nil
	})
	if err != nil {
		return GradeItem{}, false, err
	}
	return entry.Item, entry.Found, nil
}

// Invalidate drops the cached entry after the host edits a grade item.
func (s *CachedGradeItemSource) Invalidate(ctx context.Context, id string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("extract: cached grade item source is not configured")
	}
	cacheKey, err := GradeItemCacheKey(id)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ GradeItemSource = (*CachedGradeItemSource)(nil)

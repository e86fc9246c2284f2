package idempotency

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const processedCacheKeyPrefix = "billing-webhooks::processed::v1"

// CachedStore layers a read cache over a shared base store. The cache only
// ever accelerates HasProcessed reads; the base store remains the source of
// truth for claims, so multi-instance deployments stay correct.
type CachedStore struct {
	base  Store
	cache repositorycache.CacheService
}

func NewCachedStore(base Store, cacheService repositorycache.CacheService) (*CachedStore, error) {
	if base == nil {
		return nil, fmt.Errorf("idempotency: base store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("idempotency: cache service is required")
	}
	return &CachedStore{base: base, cache: cacheService}, nil
}

// ProcessedCacheKey returns the deterministic cache key contract:
// billing-webhooks::processed::v1::<event_id> with the id URL-path escaped.
func ProcessedCacheKey(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", storeBadInput("idempotency: event id is required")
	}
	return processedCacheKeyPrefix + "::" + url.PathEscape(eventID), nil
}

func (s *CachedStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, storeInternal("idempotency: cached store is not configured")
	}
	cacheKey, err := ProcessedCacheKey(eventID)
	if err != nil {
		return false, err
	}

	processed, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (bool, error) {
		return s.base.HasProcessed(ctx, eventID)
	})
	if err != nil {
		return false, err
	}
	if processed {
		return true, nil
	}
	// Negative results may be stale the moment another instance claims the
	// event; only the base store answers authoritatively.
	return s.base.HasProcessed(ctx, eventID)
}

func (s *CachedStore) MarkProcessed(ctx context.Context, eventID string, now time.Time) error {
	if s == nil || s.base == nil || s.cache == nil {
		return storeInternal("idempotency: cached store is not configured")
	}
	if err := s.base.MarkProcessed(ctx, eventID, now); err != nil {
		return err
	}
	cacheKey, err := ProcessedCacheKey(eventID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.base == nil {
		return 0, storeInternal("idempotency: cached store is not configured")
	}
	return s.base.Sweep(ctx, now)
}

var _ Store = (*CachedStore)(nil)

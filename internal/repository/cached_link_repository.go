package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zhejian/shorten/internal/model"
	"golang.org/x/sync/singleflight"
)

// notFoundSentinel marks slugs known to be absent so repeated misses skip
// the database. Create overwrites it, so a sentinel never outlives the
// creation of its link.
const notFoundSentinel = "__NOT_FOUND__"

// LinkRepositoryInterface is the storage contract shared by the service
// layer and the cache layer.
type LinkRepositoryInterface interface {
	Create(ctx context.Context, link *model.Link) error
	GetBySlug(ctx context.Context, slug string) (*model.Link, error)
	GetByURL(ctx context.Context, url string) (*model.Link, error)
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
	IncrementHits(ctx context.Context, slug string) (*model.Link, error)
	Recent(ctx context.Context, limit int) ([]model.Link, error)
	ResolveSlug(ctx context.Context, slug string) (*model.Link, error)
}

// CachedLinkRepository layers Redis over a link repository for the redirect
// hot path. Only ResolveSlug reads from the cache: slug and URL are
// immutable and links are never deleted, so a cached entry can never serve
// a stale target. Reads that need a fresh hit count keep going to the
// database.
type CachedLinkRepository struct {
	db    LinkRepositoryInterface
	cache *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

var _ LinkRepositoryInterface = (*CachedLinkRepository)(nil)

// NewCachedLinkRepository wraps db with a Redis cache. A nil cache client
// degrades to plain database access.
func NewCachedLinkRepository(db LinkRepositoryInterface, cache *redis.Client, ttl time.Duration) *CachedLinkRepository {
	return &CachedLinkRepository{db: db, cache: cache, ttl: ttl}
}

func cacheKey(slug string) string {
	return fmt.Sprintf("link:%s", slug)
}

// ResolveSlug looks a slug up cache-first. Cold lookups for the same slug
// are collapsed through singleflight into one database query, and absent
// slugs are cached negatively. Cache failures degrade to the database.
func (r *CachedLinkRepository) ResolveSlug(ctx context.Context, slug string) (*model.Link, error) {
	if r.cache == nil {
		return r.db.ResolveSlug(ctx, slug)
	}

	key := cacheKey(slug)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		if cached == notFoundSentinel {
			return nil, ErrNotFound
		}
		var link model.Link
		if err := json.Unmarshal([]byte(cached), &link); err == nil {
			return &link, nil
		}
		// Corrupt entry: fall through, the refill below overwrites it.
	}

	v, err, _ := r.group.Do(slug, func() (any, error) {
		link, err := r.db.ResolveSlug(ctx, slug)
		if errors.Is(err, ErrNotFound) {
			r.cache.Set(ctx, key, notFoundSentinel, r.ttl)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(link); err == nil {
			r.cache.Set(ctx, key, data, r.ttl)
		}
		return link, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Link), nil
}

// Create inserts through to the database and primes the cache, overwriting
// any negative entry left by lookups that raced the creation.
func (r *CachedLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.Create(ctx, link); err != nil {
		return err
	}
	if r.cache != nil {
		if data, err := json.Marshal(link); err == nil {
			r.cache.Set(ctx, cacheKey(link.Slug), data, r.ttl)
		}
	}
	return nil
}

// GetBySlug always reads fresh, so hit counts are never served stale.
func (r *CachedLinkRepository) GetBySlug(ctx context.Context, slug string) (*model.Link, error) {
	return r.db.GetBySlug(ctx, slug)
}

func (r *CachedLinkRepository) GetByURL(ctx context.Context, url string) (*model.Link, error) {
	return r.db.GetByURL(ctx, url)
}

func (r *CachedLinkRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	return r.db.ExistsBySlug(ctx, slug)
}

func (r *CachedLinkRepository) IncrementHits(ctx context.Context, slug string) (*model.Link, error) {
	return r.db.IncrementHits(ctx, slug)
}

func (r *CachedLinkRepository) Recent(ctx context.Context, limit int) ([]model.Link, error) {
	return r.db.Recent(ctx, limit)
}

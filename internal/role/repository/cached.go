package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"gathering-marketplace/backend/internal/platform/cache"
	"gathering-marketplace/backend/internal/role/domain"
)

// Cache is the byte cache CachedDefinitions reads through. *cache.Redis implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ Cache = (*cache.Redis)(nil)

// CachedDefinitions is a cache-aside DefinitionRepository shared by every process instance.
// Cache failures are logged and fall through to the backing repository. Unknown roles are not
// cached, so defining a role takes effect without waiting for a TTL.
type CachedDefinitions struct {
	next  DefinitionRepository
	cache Cache
	ttl   time.Duration
}

// NewCachedDefinitions wraps next with c.
func NewCachedDefinitions(next DefinitionRepository, c Cache, ttl time.Duration) *CachedDefinitions {
	return &CachedDefinitions{next: next, cache: c, ttl: ttl}
}

// GetDefinition returns the cached definition or loads and caches it.
func (c *CachedDefinitions) GetDefinition(ctx context.Context, code domain.RoleCode) (*domain.Definition, error) {
	key := string(code)
	b, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var def domain.Definition
		if jsonErr := json.Unmarshal(b, &def); jsonErr == nil {
			return &def, nil
		}
		log.Printf("roles: dropping undecodable cache entry for %s", code)
		_ = c.cache.Delete(ctx, key)
	case !errors.Is(err, cache.ErrMiss):
		log.Printf("roles: cache read for %s failed: %v", code, err)
	}

	def, err := c.next.GetDefinition(ctx, code)
	if err != nil || def == nil {
		return def, err
	}
	if b, err := json.Marshal(def); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			log.Printf("roles: cache write for %s failed: %v", code, err)
		}
	}
	return def, nil
}

// Invalidate drops cached definitions, e.g. after the seed command rewrites them.
func (c *CachedDefinitions) Invalidate(ctx context.Context, codes ...domain.RoleCode) error {
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = string(code)
	}
	return c.cache.Delete(ctx, keys...)
}

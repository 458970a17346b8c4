package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/cache"
)

// CachedService memoizes successful answers per tenant and request.
type CachedService struct {
	next  Service
	cache *cache.TTL[Response]
}

// NewCachedService wraps next with a TTL cache.
func NewCachedService(next Service, ttl time.Duration) *CachedService {
	return &CachedService{next: next, cache: cache.New[Response](ttl)}
}

// Suggest returns a cached answer or asks the wrapped service.
func (c *CachedService) Suggest(ctx context.Context, req Request) (Response, error) {
	key := cacheKey(req)
	if resp, ok := c.cache.Get(key); ok {
		slog.Debug("AI cache hit", "tenant_id", req.TenantID, "task", req.Task, "subject", req.Subject)
		return resp, nil
	}

	resp, err := c.next.Suggest(ctx, req)
	if err != nil {
		return Response{}, err
	}
	c.cache.Set(key, resp)
	return resp, nil
}

// Close stops the cache sweep.
func (c *CachedService) Close() {
	c.cache.Close()
}

func cacheKey(req Request) string {
	payload, _ := json.Marshal(req)
	sum := sha256.Sum256(payload)
	return req.TenantID + ":" + req.Task + ":" + hex.EncodeToString(sum[:])
}

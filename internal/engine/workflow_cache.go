package engine

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// DefaultWorkflowCacheTTL is used when NewCachedWorkflows is given no TTL.
const DefaultWorkflowCacheTTL = time.Minute

type workflowCacheValue struct {
	def *schema.WorkflowDefinition
	err error
}

// CachedWorkflows memoizes workflow definitions by workflow ID.
type CachedWorkflows struct {
	inner store.WorkflowProvider
	cache *ttlcache.Cache[string, workflowCacheValue]
}

// NewCachedWorkflows wraps inner with a TTL cache. Call Stop to end the
// expiry loop.
func NewCachedWorkflows(inner store.WorkflowProvider, ttl time.Duration) *CachedWorkflows {
	if ttl <= 0 {
		ttl = DefaultWorkflowCacheTTL
	}
	c := &CachedWorkflows{
		inner: inner,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, workflowCacheValue](ttl),
		),
	}
	go c.cache.Start()
	return c
}

// WorkflowFor implements store.WorkflowProvider. Items without a workflow are
// passed straight through.
func (c *CachedWorkflows) WorkflowFor(ctx context.Context, item *schema.Item) (*schema.WorkflowDefinition, error) {
	if item.WorkflowID == "" {
		return c.inner.WorkflowFor(ctx, item)
	}

	loader := ttlcache.LoaderFunc[string, workflowCacheValue](
		func(cache *ttlcache.Cache[string, workflowCacheValue], key string) *ttlcache.Item[string, workflowCacheValue] {
			def, err := c.inner.WorkflowFor(ctx, item)
			return cache.Set(key, workflowCacheValue{def: def, err: err}, ttlcache.DefaultTTL)
		})

	v := c.cache.Get(item.WorkflowID, ttlcache.WithLoader(loader))
	if v == nil {
		return nil, schema.NewError(schema.ErrCodeStore, "workflow cache returned no entry")
	}
	val := v.Value()
	if val.err != nil {
		// store errors are not kept
		c.cache.Delete(item.WorkflowID)
	}
	return val.def, val.err
}

// Invalidate drops a cached workflow definition.
func (c *CachedWorkflows) Invalidate(workflowID string) {
	c.cache.Delete(workflowID)
}

// Stop ends the cache's expiry loop.
func (c *CachedWorkflows) Stop() {
	c.cache.Stop()
}

// Package cache provides a TTL cache in front of the template source.
package cache

import (
	"context"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// TemplateCache serves task templates from memory, falling back to the
// wrapped source on a miss. Lookup errors are never cached.
type TemplateCache struct {
	source ports.TemplateSource
	c      *ttlcache.Cache[string, domain.TaskTemplate]
	logger *zap.Logger
}

var _ ports.TemplateSource = (*TemplateCache)(nil)

// NewTemplateCache creates a cache holding at most size templates for expiration
func NewTemplateCache(source ports.TemplateSource, size int, expiration time.Duration, logger *zap.Logger) *TemplateCache {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, domain.TaskTemplate](uint64(size)),
		ttlcache.WithTTL[string, domain.TaskTemplate](expiration),
	)

	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, domain.TaskTemplate]) {
		reason := "deleted"
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		}

		logger.Debug("task template evicted",
			zap.String("template_id", i.Key()),
			zap.String("reason", reason))
	})

	return &TemplateCache{
		source: source,
		c:      c,
		logger: logger,
	}
}

// GetTaskTemplate returns the cached template or loads it from the source
func (tc *TemplateCache) GetTaskTemplate(ctx context.Context, templateID string) (*domain.TaskTemplate, error) {
	if item := tc.c.Get(templateID); item != nil {
		tmpl := item.Value()
		return &tmpl, nil
	}

	tmpl, err := tc.source.GetTaskTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	tc.c.Set(templateID, *tmpl, ttlcache.DefaultTTL)

	out := *tmpl
	return &out, nil
}

// Invalidate drops a template so the next lookup reaches the source
func (tc *TemplateCache) Invalidate(templateID string) {
	tc.c.Delete(templateID)
}

// Len returns the number of cached templates
func (tc *TemplateCache) Len() int {
	return tc.c.Len()
}

// StartEviction removes expired templates until ctx is done
func (tc *TemplateCache) StartEviction(ctx context.Context) {
	go tc.c.Start()

	<-ctx.Done()

	tc.c.Stop()
}

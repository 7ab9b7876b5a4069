package abuse

import (
	"context"
	"sync"
	"time"

	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// Cache computes abuse patterns once and hands the same result to every
// caller for the rest of the process lifetime. There is no invalidation:
// new input means a new pipeline and a new Cache.
type Cache struct {
	get func() ([]model.AbusePattern, error)
}

// NewCache prepares a cache over q. Nothing runs until the first Get.
func NewCache(ctx context.Context, q Querier, cfg Config) *Cache {
	detectors := Detectors(cfg)
	return &Cache{get: sync.OnceValues(func() ([]model.AbusePattern, error) {
		start := time.Now()
		patterns, err := Run(ctx, q, detectors, cfg.MinConfidence)
		logger.L().Infow("abuse: detection complete",
			"patterns", len(patterns), "duration", time.Since(start), "error", err)
		return patterns, err
	})}
}

// Get returns the cached patterns, running the detectors on first use.
// Callers must not modify the returned slice.
func (c *Cache) Get() ([]model.AbusePattern, error) {
	return c.get()
}

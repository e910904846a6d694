package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/dayclose"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/staffing"
)

// DayClose bundles the lifecycle service with the collaborators callers
// occasionally need directly.
type DayClose struct {
	Service *dayclose.Service
	Catalog catalog.Source
}

// NewDayClose wires the lifecycle service against Postgres and Redis. A nil
// redis client falls back to in-process locking and uncached catalog reads.
func NewDayClose(cfg *Config, pool *pgxpool.Pool, redisClient redis.UniversalClient, registerer prometheus.Registerer, logger *slog.Logger) *DayClose {
	var locker shared.Locker
	if redisClient != nil {
		locker = shared.NewRedisLocker(redisClient)
	} else {
		locker = shared.NewLocalLocker()
	}
	source := catalog.NewCached(catalog.NewRepository(pool), redisClient, cfg.CatalogCacheTTL, logger)

	svc := dayclose.NewService(dayclose.Deps{
		Repo:        dayclose.NewRepository(pool),
		Catalog:     source,
		Staffing:    staffing.NewRepository(pool),
		Locker:      locker,
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Metrics:     dayclose.NewMetrics(registerer),
		Logger:      logger,
	}, dayclose.ServiceConfig{LockTTL: cfg.DayLockTTL})
	return &DayClose{Service: svc, Catalog: source}
}

// FlushCatalogCache drops cached catalog lists. It is a no-op when caching is
// disabled.
func (d *DayClose) FlushCatalogCache(ctx context.Context) error {
	cached, ok := d.Catalog.(*catalog.Cached)
	if !ok {
		return nil
	}
	return cached.Invalidate(ctx)
}

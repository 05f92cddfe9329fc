package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/usagegate/migrations"
	"github.com/dmitrymomot/usagegate/pkg/config"
	"github.com/dmitrymomot/usagegate/pkg/httpserver"
	"github.com/dmitrymomot/usagegate/pkg/idempotency"
	"github.com/dmitrymomot/usagegate/pkg/mongo"
	"github.com/dmitrymomot/usagegate/pkg/pg"
	"github.com/dmitrymomot/usagegate/pkg/ratelimiter"
	"github.com/dmitrymomot/usagegate/pkg/redis"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
	"github.com/dmitrymomot/usagegate/pkg/subscription/mongostore"
	"github.com/dmitrymomot/usagegate/pkg/subscription/pgstore"
)

// dependencies owns the external connections of the process and the
// health checks that probe them.
type dependencies struct {
	log     *slog.Logger
	redis   *goredis.Client
	checks  map[string]httpserver.Check
	closers []func()
}

func (d *dependencies) addCheck(name string, check httpserver.Check) {
	if d.checks == nil {
		d.checks = make(map[string]httpserver.Check)
	}
	d.checks[name] = check
}

// close releases connections in reverse order of opening.
func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func (d *dependencies) openStore(ctx context.Context, driver string) (subscription.Store, error) {
	switch driver {
	case "", "memory":
		d.log.WarnContext(ctx, "using in-memory store, data is lost on restart")
		return subscription.NewMemoryStore(), nil

	case "mongo", "mongodb":
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(shutdownCtx)
		})
		d.addCheck("mongo", mongo.Healthcheck(db.Client()))

		store := mongostore.New(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		d.log.InfoContext(ctx, "using mongo store", slog.String("database", cfg.Database))
		return store, nil

	case "postgres", "pg":
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		d.addCheck("postgres", pg.Healthcheck(pool))

		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, pool, migrations.FS, cfg, d.log); err != nil {
				return nil, err
			}
		}
		db := pg.OpenDB(pool)
		d.closers = append(d.closers, func() { _ = db.Close() })
		d.log.InfoContext(ctx, "using postgres store")
		return pgstore.New(db), nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
}

// openRedis connects when REDIS_URL is set. Without Redis, deduplication and
// rate limiting fall back to per-process memory.
func (d *dependencies) openRedis(ctx context.Context) error {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if !cfg.Enabled() {
		return nil
	}

	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	d.redis = client
	d.closers = append(d.closers, func() { _ = client.Close() })
	d.addCheck("redis", redis.Healthcheck(client))
	return nil
}

func (d *dependencies) deduplicator(size int, ttl time.Duration) subscription.EventDeduplicator {
	if d.redis != nil {
		return idempotency.NewRedisStore(d.redis, idempotency.WithTTL(ttl))
	}
	d.log.Warn("webhook deduplication is per process without redis")
	return idempotency.NewMemoryStore(size, ttl)
}

func (d *dependencies) rateLimiter() (ratelimiter.RateLimiter, error) {
	var cfg ratelimiter.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	var store ratelimiter.Store
	if d.redis != nil {
		store = ratelimiter.NewRedisStore(d.redis)
	} else {
		store = ratelimiter.NewMemoryStore()
	}
	return ratelimiter.NewBucket(store, cfg)
}

func newBillingProvider(name string) (subscription.BillingProvider, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "stripe":
		var cfg subscription.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return subscription.NewStripeProvider(cfg)
	case "paddle":
		var cfg subscription.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return subscription.NewPaddleProvider(cfg)
	}
	return nil, fmt.Errorf("unknown BILLING_PROVIDER %q", name)
}

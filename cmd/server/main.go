// Command server runs the usage gate HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/usagegate/modules/metering"
	"github.com/dmitrymomot/usagegate/pkg/config"
	"github.com/dmitrymomot/usagegate/pkg/environment"
	"github.com/dmitrymomot/usagegate/pkg/httpserver"
	"github.com/dmitrymomot/usagegate/pkg/logger"
	"github.com/dmitrymomot/usagegate/pkg/metrics"
	"github.com/dmitrymomot/usagegate/pkg/requestid"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
	"github.com/dmitrymomot/usagegate/pkg/textai"
	"github.com/dmitrymomot/usagegate/svc/usagereset"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var envFiles []string
	if f := os.Getenv("ENV_FILE"); f != "" {
		envFiles = append(envFiles, f)
	}
	if err := config.LoadEnv(envFiles...); err != nil {
		return err
	}

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}
	env, err := environment.Parse(cfg.Env)
	if err != nil {
		return err
	}

	var logCfg logger.Config
	if err := config.Load(&logCfg); err != nil {
		return err
	}
	log := logger.New(
		logger.WithEnvironment(env, cfg.ServiceName),
		logger.WithConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	deps := &dependencies{log: log}
	defer deps.close()

	store, err := deps.openStore(ctx, cfg.StoreDriver)
	if err != nil {
		return err
	}
	if err := deps.openRedis(ctx); err != nil {
		return err
	}

	m := metrics.New()

	failurePolicy, err := subscription.ParseFailurePolicy(cfg.GateFailurePolicy)
	if err != nil {
		return err
	}
	gateOpts := []subscription.GateOption{
		subscription.WithFailurePolicy(failurePolicy),
		subscription.WithGateLogger(log),
		subscription.WithGateObserver(m),
	}
	if cfg.PlansFile != "" {
		policy, err := subscription.LoadPolicyFile(cfg.PlansFile)
		if err != nil {
			return err
		}
		gateOpts = append(gateOpts, subscription.WithPolicy(policy))
	}

	if cfg.InternalAPIKey == "" {
		log.WarnContext(ctx, "INTERNAL_API_KEY is empty, /reset-usage will reject every call")
	}
	resetter := subscription.NewResetter(store, cfg.InternalAPIKey, log)
	prices := subscription.NewPriceMap(cfg.PriceIDsMonthly, cfg.PriceIDsYearly)

	var modCfg metering.Config
	if err := config.Load(&modCfg); err != nil {
		return err
	}
	opts := metering.Options{
		Meter:        subscription.NewMeter(store),
		Resetter:     resetter,
		Gate:         subscription.NewGate(store, gateOpts...),
		Prices:       prices,
		Metrics:      m,
		HealthChecks: deps.checks,
		Config:       modCfg,
		Logger:       log,
	}

	provider, err := newBillingProvider(cfg.BillingProvider)
	if err != nil {
		return err
	}
	if provider != nil {
		recOpts := []subscription.ReconcilerOption{
			subscription.WithReconcilerLogger(log),
			subscription.WithEventObserver(m),
			subscription.WithDeduplicator(deps.deduplicator(cfg.WebhookDedupSize, cfg.WebhookDedupTTL)),
		}
		if cfg.WebhookOrderingGuard {
			recOpts = append(recOpts, subscription.WithOrderingGuard())
		}
		opts.Provider = provider
		opts.Reconciler = subscription.NewReconciler(store, provider, prices, recOpts...)
		log.InfoContext(ctx, "billing provider enabled", slog.String("provider", cfg.BillingProvider))
	}

	var textCfg textai.Config
	if err := config.Load(&textCfg); err != nil {
		return err
	}
	if textCfg.Enabled() {
		client, err := textai.New(textCfg, textai.WithLogger(log))
		if err != nil {
			return err
		}
		opts.Text = client
		if cfg.RateLimitEnabled {
			limiter, err := deps.rateLimiter()
			if err != nil {
				return err
			}
			opts.RateLimiter = limiter
		}
	} else {
		log.InfoContext(ctx, "text backend not configured, /detect and /humanize disabled")
	}

	module, err := metering.New(opts)
	if err != nil {
		return err
	}

	var srvCfg httpserver.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}
	server := httpserver.NewFromConfig(srvCfg, httpserver.WithLogger(log))

	var scheduler *usagereset.Scheduler
	if cfg.UsageResetSchedule != "" {
		loc, err := time.LoadLocation(cfg.UsageResetTimezone)
		if err != nil {
			return fmt.Errorf("usage reset timezone: %w", err)
		}
		scheduler, err = usagereset.New(resetter, cfg.UsageResetSchedule,
			usagereset.WithLogger(log),
			usagereset.WithObserver(m),
			usagereset.WithLocation(loc),
		)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, module.Handle())
	})
	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

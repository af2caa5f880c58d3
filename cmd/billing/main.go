// Command billing runs the LMS billing service: the Stripe webhook endpoint,
// the user and admin billing actions and the daily expiry sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/lmsadmin/pkg/config"
	"github.com/dmitrymomot/lmsadmin/pkg/httpserver"
	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/pg"
	"github.com/dmitrymomot/lmsadmin/pkg/redis"
	"github.com/dmitrymomot/lmsadmin/pkg/requestid"
	"github.com/dmitrymomot/lmsadmin/pkg/scheduler"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
	"github.com/dmitrymomot/lmsadmin/svc/billing"
	"github.com/dmitrymomot/lmsadmin/svc/billing/migrations"
	"github.com/dmitrymomot/lmsadmin/svc/billing/pgstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("billing service stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		appCfg    billing.Config
		stripeCfg subscription.StripeConfig
		pgCfg     pg.Config
		redisCfg  redis.Config
		httpCfg   httpserver.Config
	)
	if err := errors.Join(
		config.Load(&appCfg),
		config.Load(&stripeCfg),
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&httpCfg),
	); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(
		logger.WithEnvironment(appCfg.AppEnv, appCfg.ServiceName),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, migrations.FS, ".", log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis client", logger.Error(err))
		}
	}()

	provider, err := subscription.NewStripeProvider(stripeCfg)
	if err != nil {
		return fmt.Errorf("stripe provider: %w", err)
	}

	locker := scheduler.NewRedisLocker(rdb, appCfg.ServiceName+":")

	store := pgstore.New(pool)
	svc := subscription.NewService(provider, store, store, store,
		subscription.WithLogger(log),
		subscription.WithAdminGrantDays(appCfg.AdminGrantDays),
		subscription.WithGrantLocker(locker),
	)

	metrics := billing.NewMetrics()
	limiter := billing.NewUserRateLimiter(appCfg.SyncRateLimit, appCfg.SyncRateBurst)
	handler := billing.NewHandler(svc,
		billing.WithLogger(log),
		billing.WithMetrics(metrics),
		billing.WithRateLimiter(limiter),
		billing.WithAuditStorage(pgstore.NewAuditStorage(pool)),
		billing.WithHealthChecks(
			httpserver.HealthCheck{Name: "postgres", Check: pg.Healthcheck(pool)},
			httpserver.HealthCheck{Name: "redis", Check: redis.Healthcheck(rdb)},
		),
	)

	sched := scheduler.New(
		scheduler.WithLogger(log),
		scheduler.WithLocker(locker),
	)
	if err := billing.RegisterJobs(sched, appCfg, svc, metrics, limiter, log); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, handler.Routes())
	})
	g.Go(func() error {
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	log.Info("billing service started", slog.String("addr", httpCfg.Addr))
	return g.Wait()
}

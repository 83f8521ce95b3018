package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/hiccup-service/internal/api/http"
	"github.com/spec-kit/hiccup-service/internal/api/http/handlers"
	"github.com/spec-kit/hiccup-service/internal/auth"
	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/events"
	"github.com/spec-kit/hiccup-service/internal/notification"
	"github.com/spec-kit/hiccup-service/internal/observability"
	"github.com/spec-kit/hiccup-service/internal/persistence"
	"github.com/spec-kit/hiccup-service/internal/repository"
	"github.com/spec-kit/hiccup-service/internal/service"
	"github.com/spec-kit/hiccup-service/internal/storage"
	"github.com/spec-kit/hiccup-service/internal/worker"
)

type stores struct {
	cases        repository.CaseRepository
	staff        repository.StaffRepository
	systemTokens repository.SystemTokenRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pg   *persistence.Postgres
		repo stores
	)
	if cfg.Postgres.DSN == "" {
		logger.Warn("POSTGRES_DSN not set; using in-memory store")
		mem := repository.NewMemoryStore()
		repo = stores{cases: mem.Cases(), staff: mem.Staff(), systemTokens: mem.SystemTokens()}
	} else {
		pg, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		pool := pg.PoolHandle()
		repo = stores{
			cases:        repository.NewCaseRepository(pool),
			staff:        repository.NewStaffRepository(pool),
			systemTokens: repository.NewSystemTokenRepository(pool),
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	dispatcher := events.NewInMemoryDispatcher(logger)

	var (
		queue  notification.Queue
		locker worker.Locker = worker.NoopLocker{}
	)
	if redis != nil {
		queue = notification.NewRedisQueue(redis.Handle(), cfg.Notification.QueueKey)
		locker = worker.NewRedisLocker(redis.Handle(), cfg.App.Name+":lock:")
	} else {
		queue = notification.NewMemoryQueue(cfg.Notification.QueueSize)
	}
	gateway := notification.NewGateway(cfg.Notification, logger)
	notifier := worker.NewNotificationWorker(queue, gateway, logger, metrics)

	notifications := service.NewNotificationService(dispatcher, queue, logger, metrics, cfg.Notification, cfg.App.Location)
	notifications.RegisterHandlers()

	attachments := storage.NewLocalStore(cfg.Storage)
	caseService := service.NewCaseService(service.CaseDependencies{
		CaseRepo:    repo.cases,
		StaffRepo:   repo.staff,
		Attachments: attachments,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Location:    cfg.App.Location,
		Config:      cfg.Case,
	})
	reportService := service.NewReportService(repo.cases, cfg.App.Location)
	monitorService := service.NewMonitorService(service.MonitorDependencies{
		CaseRepo:   repo.cases,
		Reports:    reportService,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Policy:     caseService.Policy(),
	})

	tokenManager := auth.NewTokenManager(cfg.Auth)
	systemTokens := auth.NewSystemTokens(repo.systemTokens, cfg.Auth.BcryptCost)
	if raw := cfg.Auth.BootstrapSystemToken; raw != "" {
		token, err := systemTokens.Register(ctx, raw, "bootstrap")
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			logger.Info("bootstrap system token already registered")
		case err != nil:
			logger.Fatal("failed to register bootstrap system token", zap.Error(err))
		default:
			logger.Info("bootstrap system token registered", zap.String("token_id", token.ID))
		}
	}
	authMiddleware := auth.NewAuthMiddleware(tokenManager, repo.staff, logger)

	scheduler := worker.NewScheduler(worker.SchedulerDependencies{
		Location: cfg.App.Location,
		Locker:   locker,
		Logger:   logger,
		Metrics:  metrics,
	}, scheduledJobs(cfg.Scheduler, monitorService)...)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
		BodyLimit:    int(cfg.Storage.MaxUploadBytes) + 1<<20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Cases:          handlers.NewCasesHandler(caseService, attachments.MaxBytes()),
		Reports:        handlers.NewReportsHandler(reportService, nil, logger),
		AuthMiddleware: authMiddleware,
		SystemTokens:   systemTokens,
		Metrics:        metrics,
	})

	notifier.Start(ctx)
	if cfg.Scheduler.Enabled {
		scheduler.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		scheduler.Stop()
		notifier.Stop()
		return app.Shutdown()
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
}

func scheduledJobs(cfg config.SchedulerConfig, monitor *service.MonitorService) []worker.Job {
	return []worker.Job{
		{
			Name:     "overdue-scan",
			Interval: cfg.OverdueInterval(),
			Run: func(ctx context.Context, now time.Time) error {
				_, err := monitor.CheckOverdues(ctx, now)
				return err
			},
		},
		{
			Name:     "followup-sweep",
			Interval: cfg.FollowupInterval(),
			Run: func(ctx context.Context, now time.Time) error {
				_, err := monitor.SweepFollowups(ctx, now)
				return err
			},
		},
		{
			Name:  "daily-digest",
			Daily: &worker.DailyAt{Hour: cfg.DigestHour, Minute: cfg.DigestMinute},
			Run: func(ctx context.Context, now time.Time) error {
				_, err := monitor.SendDailyDigest(ctx, now)
				return err
			},
		},
	}
}

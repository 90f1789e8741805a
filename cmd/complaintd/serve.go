package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/complaint-service/internal/api/http"
	"github.com/spec-kit/complaint-service/internal/api/http/handlers"
	"github.com/spec-kit/complaint-service/internal/auth"
	"github.com/spec-kit/complaint-service/internal/classifier"
	"github.com/spec-kit/complaint-service/internal/config"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/lifecycle"
	"github.com/spec-kit/complaint-service/internal/mail"
	"github.com/spec-kit/complaint-service/internal/observability"
	"github.com/spec-kit/complaint-service/internal/persistence"
	"github.com/spec-kit/complaint-service/internal/ratelimit"
	"github.com/spec-kit/complaint-service/internal/realtime"
	"github.com/spec-kit/complaint-service/internal/repository"
	"github.com/spec-kit/complaint-service/internal/repository/memory"
	"github.com/spec-kit/complaint-service/internal/scheduler"
	"github.com/spec-kit/complaint-service/internal/service"
	"github.com/spec-kit/complaint-service/internal/stream"
	"github.com/spec-kit/complaint-service/internal/worker"
)

const (
	eventQueueSize = 1024
	eventWorkers   = 4
	mailTimeout    = 10 * time.Second
	shutdownGrace  = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket gateway and background workers",
	RunE:  runServe,
}

type stores struct {
	tickets       repository.TicketRepository
	users         repository.UserRepository
	notifications repository.NotificationRepository
}

func openStores(pg *persistence.Postgres) stores {
	if !pg.Enabled() {
		return stores{
			tickets:       memory.NewTicketStore(),
			users:         memory.NewUserStore(),
			notifications: memory.NewNotificationStore(),
		}
	}
	pool := pg.PoolHandle()
	return stores{
		tickets:       repository.NewTicketRepository(pool),
		users:         repository.NewUserRepository(pool),
		notifications: repository.NewNotificationRepository(pool),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	repos := openStores(pg)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	machine := lifecycle.NewMachine(cfg.SLATable(), time.Now)
	mailer := mail.NewMailer(mail.NewTransport(cfg.Notification, mail.NewLogTransport(logger)), mailTimeout, logger)
	dispatcher := events.NewAsyncDispatcher(logger, eventQueueSize, eventWorkers)

	registry := realtime.NewRegistry(realtime.Options{
		BacklogSize: cfg.Realtime.BacklogSize,
		Logger:      logger,
		Metrics:     metrics,
	})

	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:   repos.users,
		Tokens:     tokens,
		Mailer:     mailer,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: repos.notifications,
		UserRepo:         repos.users,
		Pusher:           registry,
		Mailer:           mailer,
		Expiry:           cfg.Notification.Expiry(),
		Logger:           logger,
		Metrics:          metrics,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo: repos.tickets,
		UserRepo:   repos.users,
		Machine:    machine,
		Dispatcher: dispatcher,
		Presence:   registry,
		Capacity:   cfg.Assignment.AgentCapacity,
		Logger:     logger,
		Metrics:    metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: repos.tickets,
		Machine:    machine,
		Classifier: classifier.NewGuarded(classifier.NewKeyword(), cfg.Classifier.Timeout(), logger),
		Dispatcher: dispatcher,
		Assigner:   assignmentService,
		AutoAssign: cfg.Assignment.AutoAssignOnCreate,
		Logger:     logger,
		Metrics:    metrics,
	})
	directoryService := service.NewDirectoryService(service.DirectoryDependencies{
		UserRepo:   repos.users,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	registry.Bind(notificationService, ticketService, assignmentService)

	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if _, err := authService.EnsureAdmin(ctx, cfg.Auth.AdminName, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	producer := stream.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	workers := worker.StartNotificationWorker(ctx, dispatcher, logger, notificationService, producer)

	jobs, err := scheduler.New(cfg.Scheduler, scheduler.Dependencies{
		Notifications: notificationService,
		Tickets:       ticketService,
		Rooms:         registry,
		Dispatcher:    dispatcher,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	jobs.Start(ctx)

	limiter := ratelimit.New(redis.Client, ratelimit.Rule{
		Limit:  cfg.Realtime.OriginLimit,
		Window: cfg.Realtime.OriginWindow(),
	}, logger)
	gateway := realtime.NewGateway(realtime.GatewayConfig{
		Addr:           cfg.Realtime.Addr,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		TrustedProxies: cfg.Realtime.TrustedProxies,
	}, registry, limiter, authService, ticketService, logger, metrics)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Assignments:    handlers.NewAssignmentsHandler(assignmentService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Directory:      handlers.NewDirectoryHandler(directoryService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, repos.users),
		Metrics:        metrics,
	})

	errCh := make(chan error, 2)
	go func() {
		if err := gateway.Start(); err != nil {
			errCh <- fmt.Errorf("websocket gateway: %w", err)
		}
	}()
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			errCh <- fmt.Errorf("fiber listen: %w", err)
		}
	}()

	runErr := waitForShutdown(logger, errCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	jobs.Stop(shutdownCtx)
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket gateway shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	_ = workers.Shutdown(shutdownCtx)
	if err := producer.Close(); err != nil {
		logger.Warn("event exporter close", zap.Error(err))
	}
	return runErr
}

func waitForShutdown(logger *zap.Logger, errCh <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return nil
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
		return err
	}
}

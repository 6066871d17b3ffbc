package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boxoffice-dev/boxoffice/internal/config"
	"github.com/boxoffice-dev/boxoffice/internal/notify"
	"github.com/boxoffice-dev/boxoffice/internal/postgres"
	"github.com/boxoffice-dev/boxoffice/internal/provider"
	"github.com/boxoffice-dev/boxoffice/internal/qrtoken"
	"github.com/boxoffice-dev/boxoffice/internal/redis"
	postgresrepo "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	redisrepo "github.com/boxoffice-dev/boxoffice/internal/repository/redis"
	"github.com/boxoffice-dev/boxoffice/internal/service"
	"github.com/boxoffice-dev/boxoffice/internal/service/issuance"
	"github.com/boxoffice-dev/boxoffice/internal/service/orders"
	"github.com/boxoffice-dev/boxoffice/internal/service/payments"
	httpgin "github.com/boxoffice-dev/boxoffice/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	dispatcher notify.Dispatcher
	cache      *redisrepo.Cache
	pubsub     *redis.InventoryPubSub
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	codec, err := qrtoken.New([]byte(cfg.QR.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize qr codec: %w", err)
	}

	var dispatcher notify.Dispatcher = notify.Noop{}
	if cfg.AMQP.URL != "" {
		amqpDispatcher, err := notify.NewAMQPDispatcher(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize amqp: %w", err)
		}
		dispatcher = amqpDispatcher
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redis.NewInventoryPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 30, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	providerClient := provider.NewClient(provider.Config{
		BaseURL: cfg.Payment.ProviderURL,
		APIKey:  cfg.Payment.APIKey,
	})

	// Initialize services
	services := service.NewServices(
		store, cache, pubsub, limiter, idempotencyStore,
		codec, providerClient, dispatcher, logger,
		service.Config{
			Orders: orders.Config{
				HoldTTL:  cfg.Orders.HoldTTL,
				OrderTTL: cfg.Orders.OrderTTL,
			},
			Payments: payments.Config{
				WebhookSecret: []byte(cfg.Payment.WebhookSecret),
				Currency:      cfg.Payment.Currency,
				SuccessURL:    cfg.Payment.SuccessURL,
				CancelURL:     cfg.Payment.CancelURL,
			},
			Issuance: issuance.Config{TokenTTL: cfg.QR.TokenTTL},
		},
	)

	// Initialize Gin router
	router := httpgin.NewRouter(services, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		services:   services,
		dispatcher: dispatcher,
		cache:      cache,
		pubsub:     pubsub,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Expiry sweep: reclaims dead reservations and expires overdue orders.
	g.Go(func() error {
		interval := a.cfg.Orders.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if err := a.services.Orders.Sweep(gCtx); err != nil {
					a.logger.Error("sweep failed", "error", err)
				}
			}
		}
	})

	// Inventory change subscription: a commit in any process publishes the
	// affected ticket type; every process drops the cached availability.
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, ticketTypeID int64) {
			if err := a.cache.InvalidateTicketType(ctx, ticketTypeID); err != nil {
				a.logger.Warn("availability invalidation failed",
					"ticket_type_id", ticketTypeID, "error", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("inventory subscription ended", "error", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")

		if closer, ok := a.dispatcher.(*notify.AMQPDispatcher); ok {
			if err := closer.Close(); err != nil {
				a.logger.Warn("amqp close failed", "error", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

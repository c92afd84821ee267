package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/vasiliy-maslov/storefront-orders/internal/catalog"
	"github.com/vasiliy-maslov/storefront-orders/internal/config"
	"github.com/vasiliy-maslov/storefront-orders/internal/db"
	handler "github.com/vasiliy-maslov/storefront-orders/internal/handler/http"
	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
	"github.com/vasiliy-maslov/storefront-orders/internal/notify"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
	"github.com/vasiliy-maslov/storefront-orders/internal/payment"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "order-service").Logger()

	app := &cli.App{
		Name:           "order-service",
		Usage:          "storefront checkout, stock ledger and order administration",
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply pending migrations before serving"},
				},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply all pending migrations",
						Action: migrateUp,
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
						},
						Action: migrateDown,
					},
				},
			},
			{
				Name:  "reconcile",
				Usage: "retry the stock ledger for orders left awaiting stock",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "order", Usage: "reconcile only these order ids"},
				},
				Action: reconcile,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Order service failed")
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.App.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().
		Str("port", cfg.App.Port).
		Str("db_host", cfg.Postgres.Host).
		Str("redis_addr", cfg.Redis.Addr).
		Str("currency", cfg.Store.Currency).
		Msg("Configuration loaded")
	return cfg, nil
}

// dispatchers owns the notification chain so it can be drained on exit.
type dispatchers struct {
	async     *notify.Async
	publisher *notify.AMQPPublisher
}

func newDispatchers(cfg *config.Config) *dispatchers {
	d := &dispatchers{}

	var sink notify.Dispatcher = notify.NewLogDispatcher()
	if cfg.AMQP.URL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable, notifications will only be logged")
		} else {
			d.publisher = publisher
			sink = publisher
		}
	}

	d.async = notify.NewAsync(sink, cfg.Notify.QueueSize)
	return d
}

func (d *dispatchers) Close(ctx context.Context) {
	if err := d.async.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Pending notifications dropped on shutdown")
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
}

func newProductCache(ctx context.Context, cfg config.RedisConfig) (catalog.Cache, func()) {
	if cfg.Addr == "" {
		return catalog.NoopCache{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, product cache disabled")
		_ = client.Close()
		return catalog.NoopCache{}, func() {}
	}

	log.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return catalog.NewRedisCache(client, cfg.TTL), func() { _ = client.Close() }
}

func newOrderService(cfg *config.Config, pg *db.Postgres, ledger inventory.Ledger, dispatcher notify.Dispatcher) order.Service {
	return order.NewService(
		order.NewRepository(pg.Pool),
		ledger,
		payment.NewSimulator(cfg.Store.MaxPaymentAmount),
		dispatcher,
		order.Options{Store: cfg.Store, AdminRecipient: cfg.Notify.AdminEmail},
	)
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("migrate") {
		if err := db.MigrateUp(cfg.Postgres); err != nil {
			return err
		}
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	notifications := newDispatchers(cfg)
	cache, closeCache := newProductCache(ctx, cfg.Redis)
	defer closeCache()

	ledger := catalog.NewCacheInvalidatingLedger(inventory.NewPostgresLedger(pg.Pool), cache)
	orderSvc := newOrderService(cfg, pg, ledger, notifications.async)
	productSvc := catalog.NewService(catalog.NewRepository(pg.Pool), cache, notifications.async, catalog.Settings{
		LowStockThreshold: cfg.Store.LowStockThreshold,
		AdminRecipient:    cfg.Notify.AdminEmail,
	})

	router := handler.NewRouter(
		pg.Pool,
		handler.NewOrderHandler(orderSvc, order.NewReporter(pg.SQLX()), inventory.NewVerifier(ledger)),
		handler.NewProductHandler(productSvc),
	)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-serverErr:
		notifications.Close(context.Background())
		return fmt.Errorf("could not listen on %s: %w", cfg.App.Port, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	notifications.Close(shutdownCtx)

	log.Info().Msg("Order service stopped gracefully")
	return nil
}

func migrateUp(*cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return db.MigrateUp(cfg.Postgres)
}

func migrateDown(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return db.MigrateDown(cfg.Postgres, c.Int("steps"))
}

func reconcile(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := c.Context
	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	notifications := newDispatchers(cfg)
	defer notifications.Close(context.Background())

	cache, closeCache := newProductCache(ctx, cfg.Redis)
	defer closeCache()

	ledger := catalog.NewCacheInvalidatingLedger(inventory.NewPostgresLedger(pg.Pool), cache)
	svc := newOrderService(cfg, pg, ledger, notifications.async)

	var ids []uuid.UUID
	if raw := c.StringSlice("order"); len(raw) > 0 {
		for _, s := range raw {
			id, err := uuid.FromString(s)
			if err != nil {
				return fmt.Errorf("invalid order id %q: %w", s, err)
			}
			ids = append(ids, id)
		}
	} else {
		awaiting, err := svc.ListAwaitingStock(ctx)
		if err != nil {
			return err
		}
		for _, o := range awaiting {
			ids = append(ids, o.ID)
		}
	}

	var failed int
	for _, id := range ids {
		reconciled, err := svc.ReconcileStock(ctx, id)
		if err != nil {
			failed++
			log.Error().Err(err).Stringer("order_id", id).Msg("Failed to reconcile order")
			continue
		}
		log.Info().
			Stringer("order_id", id).
			Str("status", string(reconciled.Status)).
			Str("stock_status", string(reconciled.StockStatus)).
			Msg("Order reconciled")
	}

	log.Info().Int("orders", len(ids)).Int("failed", failed).Msg("Reconciliation finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d orders could not be reconciled", failed, len(ids))
	}
	return nil
}

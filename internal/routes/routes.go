package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wallet-service/wallet_service/internal/config"
	"github.com/wallet-service/wallet_service/internal/middleware"
	"github.com/wallet-service/wallet_service/internal/wallet"
)

const migrateTimeout = 30 * time.Second

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	store, err := newWalletStore(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	walletHandler := wallet.NewHandler(wallet.NewService(store, d.Logger))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)

	return nil
}

// newWalletStore picks Postgres when a pool is configured and the in-memory
// store otherwise, then applies the configured balance cache.
func newWalletStore(d Deps) (wallet.Store, error) {
	var store wallet.Store
	if d.DB != nil {
		pg := wallet.NewPostgresStore(d.DB, d.Cfg.LockTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
		defer cancel()
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		store = pg
	} else {
		d.Logger.Warn("DATABASE_URL not set, wallets are kept in memory")
		store = wallet.NewMemoryStore(d.Cfg.LockTimeout)
	}

	switch d.Cfg.CacheBackend {
	case config.CacheLRU:
		cache, err := wallet.NewLRUCache(d.Cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("build balance cache: %w", err)
		}
		return wallet.NewCachedStore(store, cache, d.Logger), nil
	case config.CacheRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("CACHE_BACKEND=%s requires a redis connection", config.CacheRedis)
		}
		return wallet.NewCachedStore(store, wallet.NewRedisCache(d.Cache, d.Cfg.CacheTTL), d.Logger), nil
	default:
		return store, nil
	}
}

package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aurum-pay/aurum_pay/internal/auth"
	"github.com/aurum-pay/aurum_pay/internal/bankaccount"
	"github.com/aurum-pay/aurum_pay/internal/config"
	"github.com/aurum-pay/aurum_pay/internal/identity"
	"github.com/aurum-pay/aurum_pay/internal/ledger"
	"github.com/aurum-pay/aurum_pay/internal/lock"
	"github.com/aurum-pay/aurum_pay/internal/middleware"
	"github.com/aurum-pay/aurum_pay/internal/notification"
	"github.com/aurum-pay/aurum_pay/internal/report"
	"github.com/aurum-pay/aurum_pay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// ErrorHandler renders every error as {"status":"error","message":...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"status": "error", "message": err.Error()})
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Cfg.LockBackend == config.LockBackendRedis && d.Cache == nil {
		return fmt.Errorf("LOCK_BACKEND=redis requires a redis client")
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: d.Cfg.CORSOrigins}))
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Backends: Postgres and Redis when configured, in-memory otherwise.
	var (
		store        ledger.Store
		identityRepo identity.Repository
		bankRepo     bankaccount.Repository
		locks        lock.Controller
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		bankRepo = bankaccount.NewPostgresRepository(d.DB)
	} else {
		store = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
		bankRepo = bankaccount.NewMemoryRepository()
	}
	if d.Cfg.LockBackend == config.LockBackendRedis {
		locks = lock.NewRedis(d.Cache, d.Cfg.LockWait, d.Cfg.LockTTL, d.Logger)
	} else {
		locks = lock.NewLocal(d.Cfg.LockWait)
	}

	identitySvc := identity.NewService(identityRepo, store)
	bankSvc := bankaccount.NewService(bankRepo)
	var (
		inbox    *notification.Inbox
		notifier notification.Notifier = notification.NewLog(d.Logger)
	)
	if d.Cache != nil {
		inbox = notification.NewInbox(d.Cache, 0, d.Cfg.NotificationTTL)
		notifier = notification.Fanout{notifier, inbox}
	}
	walletSvc := wallet.NewService(store, locks, bankSvc, identitySvc, notifier, d.Logger)

	reportOpts := []report.Option{report.WithLocation(d.Cfg.ReportLocation), report.WithLogger(d.Logger)}
	if d.Cache != nil {
		reportOpts = append(reportOpts, report.WithCache(d.Cache, d.Cfg.ReportCacheTTL))
	}
	reportSvc := report.NewService(store, reportOpts...)

	authSvc := auth.NewService(auth.Settings{
		AccessSecret:  d.Cfg.JWTSecret,
		RefreshSecret: d.Cfg.RefreshSecret,
		AccessTTL:     d.Cfg.AccessTokenTTL,
		RefreshTTL:    d.Cfg.RefreshTokenTTL,
	}, identityRepo)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	rateLimiter := middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute)
	RegisterIdentityRoutes(api, identitySvc, rateLimiter, d.Logger)
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, authSvc), rateLimiter)

	// Back office
	walletHandler := wallet.NewHandler(walletSvc)
	bankHandler := bankaccount.NewHandler(bankSvc)
	RegisterAdminRoutes(api.Group("/admin", middleware.AdminKey(d.Cfg.AdminAPIKey)), walletHandler, bankHandler)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	RegisterMeRoute(protected, identitySvc, walletSvc)
	RegisterProfileRoutes(protected, bankHandler)
	RegisterTransactionRoutes(protected, report.NewHandler(reportSvc))
	RegisterNotificationRoutes(protected, inbox)

	walletGroup := protected.Group("/wallet")
	if d.Cache != nil {
		walletGroup.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(walletGroup, walletHandler)

	return nil
}

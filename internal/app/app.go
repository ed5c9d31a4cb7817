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

	"go-token-auth/internal/cache"
	"go-token-auth/internal/config"
	"go-token-auth/internal/database"
	"go-token-auth/internal/event"
	"go-token-auth/internal/handler"
	"go-token-auth/internal/logger"
	"go-token-auth/internal/middleware"
	"go-token-auth/internal/repository"
	"go-token-auth/internal/router"
	"go-token-auth/internal/service"
	"go-token-auth/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

type stores struct {
	users  service.UserStore
	tokens service.RefreshTokenStore
	audit  service.AuditStore
	health *database.DB
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	a := &App{}
	ctx := context.Background()

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	profileCache, err := a.openProfileCache(ctx, cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	tokens, err := token.NewManager(token.Options{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}

	bus := event.NewBus()
	auditService := service.NewAuditService(st.audit)
	auditCtx, auditCancel := context.WithCancel(context.Background())
	auditDone := auditService.Run(auditCtx, bus)
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		auditCancel()
		<-auditDone
	})

	authService := service.NewAuthService(st.users, st.tokens, tokens, service.NewPasswordHasher(cfg.BcryptCost), bus)
	authService.SetReuseDetection(cfg.RefreshReuseDetection)
	authService.SetReuseGrace(cfg.RefreshReuseGrace)
	profileService := service.NewProfileService(st.users, profileCache, bus)

	var healthStore interface {
		Health(ctx context.Context) error
	}
	if st.health != nil {
		healthStore = st.health
	}

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Profile: handler.NewProfileHandler(profileService, auditService),
		Health:  handler.NewHealthHandler(healthStore),
		Docs:    handler.NewDocsHandler(),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		return stores{
			users:  repository.NewMemoryUserRepository(),
			tokens: repository.NewMemoryTokenRepository(),
			audit:  repository.NewMemoryAuditRepository(),
		}, nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return stores{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

	if err := db.Migrate(ctx); err != nil {
		return stores{}, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("database ready")

	return stores{
		users:  repository.NewUserRepository(db.Pool),
		tokens: repository.NewTokenRepository(db.Pool),
		audit:  repository.NewAuditRepository(db.Pool),
		health: db,
	}, nil
}

func (a *App) openProfileCache(ctx context.Context, cfg *config.Config) (service.ProfileCache, error) {
	if cfg.RedisURL == "" {
		return cache.NoopProfileCache{}, nil
	}

	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		_ = client.Close()
	})

	return cache.NewRedisProfileCache(client, cfg.ProfileCacheTTL), nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

// cleanup releases resources in reverse order of acquisition.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

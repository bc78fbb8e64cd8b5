// @title                       Identity System API
// @version                     1.0
// @description                 User registration, login, token validation and role administration.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the JWT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/99minutos/identity-system/internal/api"
	"github.com/99minutos/identity-system/internal/core/service"
	"github.com/99minutos/identity-system/internal/infrastructure/config"
	mongostore "github.com/99minutos/identity-system/internal/infrastructure/db/mongo"
	redisstore "github.com/99minutos/identity-system/internal/infrastructure/db/redis"
	httpserver "github.com/99minutos/identity-system/internal/infrastructure/http"
	"github.com/99minutos/identity-system/internal/infrastructure/http/handlers"
	"github.com/99minutos/identity-system/internal/infrastructure/queue"
	"github.com/99minutos/identity-system/pkg/logger"
)

const version = "v1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "identity-system: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: "identity-system",
		Version: version,
	})

	// --- Storage ---
	mongoClient, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()

	store := mongostore.NewUserRoleStore(mongoClient, db)
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	if err := mongostore.EnsureAuditIndexes(ctx, db); err != nil {
		return fmt.Errorf("ensure audit indexes: %w", err)
	}

	rdb, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	// --- Audit trail ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	auditService := service.NewAuditService(mongostore.NewAuditRepository(db), logger.Component("audit"))
	dispatcher := queue.NewDispatcher(cfg.Audit.Workers, auditService, logger.Component("audit"))
	dispatcher.Start(workerCtx)
	defer func() {
		stopWorkers()
		dispatcher.Wait()
	}()

	// --- Core services ---
	opts := []service.Option{
		service.WithKeyLocker(redisstore.NewKeyLocker(rdb, cfg.Redis.LockTTL)),
		service.WithAuditor(dispatcher),
	}
	hasher := service.NewPasswordHasher(cfg.Auth.BcryptCost)

	if err := service.Bootstrap(ctx, store, hasher, service.AdminSeed{
		Username: cfg.Bootstrap.AdminUsername,
		Email:    cfg.Bootstrap.AdminEmail,
		Password: cfg.Bootstrap.AdminPassword,
	}, logger.Component("bootstrap"), opts...); err != nil {
		return err
	}

	authService, err := service.NewAuthService(store, hasher, service.TokenConfig{
		SigningKey: []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger.Component("auth"), opts...)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Dependencies{
		Auth:          authService,
		Tokens:        authService,
		Roles:         service.NewRoleService(store, logger.Component("roles"), opts...),
		Users:         service.NewUserService(store, logger.Component("users"), opts...),
		Liveness:      handlers.NewHealthHandler().Liveness,
		Readiness:     handlers.NewHealthDependenciesHandler(handlers.MongoCheck(db), handlers.RedisCheck(rdb)).Readiness,
		AuthRateLimit: cfg.Auth.LoginRateLimit,
		Logger:        logger.Component("http"),
	})

	log.Info().Str("env", cfg.Env).Str("port", cfg.Port).Msg("identity service starting")
	err = httpserver.NewServer(router, cfg.Port, logger.Component("http")).Run(ctx)
	log.Info().Msg("identity service stopped")
	return err
}

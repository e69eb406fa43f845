package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sitekit/oidc-login/config"
	"github.com/sitekit/oidc-login/internal/bootstrap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting oidc-login service",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"backend_enabled", cfg.Auth.Backend.Enabled,
		"frontend_enabled", cfg.Auth.Frontend.Enabled,
	)

	db, redisClient, err := initInfrastructure(&cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	services, err := bootstrap.BuildServices(ctx, bootstrap.ServiceDeps{
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	server := bootstrap.StartHTTPServer(&bootstrap.HTTPServerConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
	})

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	return bootstrap.ShutdownHTTPServer(ctx, server, logger)
}

// initInfrastructure connects Postgres and Redis in parallel; startup fails
// when either is unreachable.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel support flexible.
func initInfrastructure(cfg *config.AppConfig, logger *slog.Logger) (*sql.DB, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	}

	var (
		db          *sql.DB
		redisClient redis.UniversalClient
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		if db, err = bootstrap.ConnectDB(dbCfg); err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if redisClient, err = bootstrap.ConnectRedis(dbCfg); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if db != nil {
			_ = db.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}
	return db, redisClient, nil
}

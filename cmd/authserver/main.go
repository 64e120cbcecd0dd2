package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/d2gex/ms1-auth-server/internal/adapter/cache"
	"github.com/d2gex/ms1-auth-server/internal/bootstrap"
	"github.com/d2gex/ms1-auth-server/internal/config"
	httptransport "github.com/d2gex/ms1-auth-server/internal/http"
	"github.com/d2gex/ms1-auth-server/internal/http/handler"
	"github.com/d2gex/ms1-auth-server/internal/keys"
	apimiddleware "github.com/d2gex/ms1-auth-server/internal/middleware"
	"github.com/d2gex/ms1-auth-server/internal/repository"
	"github.com/d2gex/ms1-auth-server/internal/server"
	"github.com/d2gex/ms1-auth-server/internal/service"
	"github.com/d2gex/ms1-auth-server/internal/service/grant"
	"github.com/d2gex/ms1-auth-server/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newClientRepository,
			newCodeRepository,
			newRedisClient,
			newPendingStore,
			newRateLimiter,
			newKeyManager,
			newCodeIssuer,
			newTokenExchanger,
			service.NewRegistryService,
			newOAuthHandler,
			handler.NewRegistryHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSeedClient, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newClientRepository(pool *pgxpool.Pool) repository.ClientRepository {
	return repository.NewPostgresClientRepo(pool)
}

func newCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return repository.NewPostgresCodeRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newPendingStore(client redis.UniversalClient) repository.PendingAuthorizationStore {
	return cacheadapter.NewRedisPendingStore(client)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(cfg config.Config) (*keys.Manager, error) {
	return keys.Load(cfg.PrivateKeyPath)
}

func newCodeIssuer(clients repository.ClientRepository, codes repository.CodeRepository, km *keys.Manager, cfg config.Config, logger *zap.Logger) *grant.CodeIssuer {
	return grant.NewCodeIssuer(clients, codes, km, cfg.AuthCodeTTL, logger)
}

func newTokenExchanger(clients repository.ClientRepository, codes repository.CodeRepository, km *keys.Manager, cfg config.Config, logger *zap.Logger) *grant.TokenExchanger {
	return grant.NewTokenExchanger(clients, codes, km, cfg.AccessTokenTTL, logger)
}

func newOAuthHandler(issuer *grant.CodeIssuer, exchanger *grant.TokenExchanger, pending repository.PendingAuthorizationStore, km *keys.Manager, cfg config.Config) *handler.OAuthHandler {
	return handler.NewOAuthHandler(issuer, exchanger, pending, km, cfg.ConsentTTL)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}

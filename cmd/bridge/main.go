package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/k99k5/oidc-convert/internal/adapter/qq"
	"github.com/k99k5/oidc-convert/internal/config"
	httptransport "github.com/k99k5/oidc-convert/internal/http"
	"github.com/k99k5/oidc-convert/internal/http/handler"
	"github.com/k99k5/oidc-convert/internal/http/middleware"
	"github.com/k99k5/oidc-convert/internal/keys"
	"github.com/k99k5/oidc-convert/internal/replay"
	"github.com/k99k5/oidc-convert/internal/server"
	"github.com/k99k5/oidc-convert/internal/service"
	"github.com/k99k5/oidc-convert/internal/telemetry"
	"github.com/k99k5/oidc-convert/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newKeyManager,
			newReplayGuard,
			newTokenIssuer,
			newQQClient,
			newRateLimiter,
			service.NewBridgeService,
			newDiscoveryService,
			handler.NewBridgeHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, warmSigningKeys, startHTTPServer),
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

func newKeyManager() *keys.Manager {
	return keys.NewManager()
}

// newReplayGuard selects the single-use code guard: Redis when configured,
// in-process otherwise.
func newReplayGuard(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (replay.Guard, error) {
	if cfg.RedisAddr == "" {
		return replay.NewMemoryGuard(), nil
	}

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

	logger.Info("redis replay guard enabled", zap.String("addr", cfg.RedisAddr))
	return replay.NewRedisGuard(client), nil
}

func newTokenIssuer(cfg config.Config, manager *keys.Manager, guard replay.Guard) *token.Issuer {
	codeSigner := token.NewHMACSigner([]byte(cfg.SigningSecret))
	idSigner := token.NewRSASigner(manager)
	return token.NewIssuer(codeSigner, idSigner, guard, cfg.AuthCodeTTL, cfg.AccessTokenTTL)
}

func newQQClient(cfg config.Config) qq.Client {
	return qq.NewHTTPClient(qq.Config{
		AppID:       cfg.QQAppID,
		AppKey:      cfg.QQAppKey,
		RedirectURI: cfg.QQRedirectURI,
	}, nil)
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newDiscoveryService() *service.DiscoveryService {
	return &service.DiscoveryService{}
}

// warmSigningKeys generates the RSA pair at startup so the first request
// does not pay the generation cost.
func warmSigningKeys(manager *keys.Manager, logger *zap.Logger) error {
	if err := manager.EnsureKeys(); err != nil {
		return fmt.Errorf("generate signing keys: %w", err)
	}
	logger.Info("signing keys ready", zap.String("kid", manager.KeyID()))
	return nil
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

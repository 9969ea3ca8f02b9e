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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	echoapi "go.pilab.hu/usersync/api/echo"
	rediscache "go.pilab.hu/usersync/cache/redis"
	"go.pilab.hu/usersync/config"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/internal/federation"
	"go.pilab.hu/usersync/internal/metrics"
	"go.pilab.hu/usersync/internal/server"
	"go.pilab.hu/usersync/log"
	"go.pilab.hu/usersync/memstore"
	"go.pilab.hu/usersync/mongodb"
	"go.pilab.hu/usersync/services"
	"go.pilab.hu/usersync/session"
	"go.pilab.hu/usersync/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLogger, err := log.Setup(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		appLogger = log.NewZerologAdapter(zerolog.InfoLevel, cfg.LogPretty)
		appLogger.Warn(context.Background(), "Invalid LOG_LEVEL configured, defaulting to 'info'", map[string]any{
			"configured_log_level": cfg.LogLevel,
		})
	}

	ctx := context.Background()
	appLogger.Info(ctx, "Starting usersync server", map[string]any{
		"http_port":     cfg.HTTPPort,
		"store_backend": cfg.StoreBackend,
		"redis_mirror":  cfg.RedisAddr != "",
		"userinfo":      cfg.UserInfoEndpoint,
		"otel_service":  cfg.OtelServiceName,
	})

	var tracerProvider *sdktrace.TracerProvider
	if cfg.TracingEnabled {
		tracerProvider, err = tracing.InitTracerProvider(cfg.OtelServiceName)
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(registry)

	checks := map[string]echoapi.HealthCheck{}

	users, err := openUserStore(ctx, cfg)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize user store", err)
	}
	if cfg.StoreBackend == config.StoreMongo {
		checks["mongo"] = mongodb.Ping
	}

	lookup := services.NewLookupService(users)
	reconciler := services.NewReconcileService(users, lookup)

	var managerOpts []session.ManagerOption
	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		mirror := rediscache.NewUserMirror(redisClient, cfg.RedisKeyPrefix, cfg.SessionMirrorTTL)
		managerOpts = append(managerOpts, session.WithMirror(mirror))
		checks["redis"] = mirror.Ping
	}

	manager := session.NewManager(reconciler, cfg.SessionIdleTTL, managerOpts...)
	manager.Start()

	var claims federation.ClaimsSource
	if cfg.UserInfoEndpoint != "" {
		client, err := federation.NewUserInfoClient(cfg.UserInfoEndpoint, federation.WithHTTPClient(&http.Client{
			Timeout: 10 * time.Second,
		}))
		if err != nil {
			appLogger.Fatal(ctx, "Failed to configure userinfo client", err)
		}
		claims = client
	} else {
		appLogger.Warn(ctx, "USERINFO_ENDPOINT is empty, trusting claims sent by clients")
	}

	sessionAPI := echoapi.NewSessionAPI(echoapi.SessionAPIOptions{
		Manager:    manager,
		Lookup:     lookup,
		Claims:     claims,
		CookieName: cfg.SessionCookieName,
	})

	httpServer := server.NewHTTPServer(cfg, appLogger, sessionAPI, registry, checks)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	manager.Stop()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			appLogger.Error(shutdownCtx, "Redis client close error", err)
		}
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
		}
	}

	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}

func openUserStore(ctx context.Context, cfg *config.ServerConfig) (domain.UserRepository, error) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return nil, err
		}
		return mongodb.NewUserRepository(ctx, mongodb.GetDB(), mongodb.WithUniqueEmail(cfg.MongoUniqueEmail))
	default:
		return memstore.NewUserRepository(memstore.WithUniqueEmail(true)), nil
	}
}

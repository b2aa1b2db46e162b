package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/example/ride-dispatch/internal/access"
	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/chat"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	var (
		envFile       string
		migrationsDir string
	)
	pflag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	pflag.StringVar(&migrationsDir, "migrations", "migrations", "directory holding the Postgres schema")
	pflag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", envFile, err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-dispatch", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, migrationsDir, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, migrationsDir string, logger *slog.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close dependency", "error", err)
			}
		}
	}()

	var store storage.Store = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.RunMigrations {
			if err := migrate(ctx, pg, migrationsDir, logger); err != nil {
				return err
			}
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
	}

	var drivers geo.Positions = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, rc.Close)
		store = storage.ClaimingStore{Store: store, Claims: storage.NewRedisClaims(rc, cfg.ClaimTTL)}
		drivers = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(30 * time.Second), DefaultSpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMEndpoint != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	h := hub.New(logger)

	fallback, err := buildFallback(cfg, logger, &closers)
	if err != nil {
		return err
	}
	notifier := dispatch.New(store, h, fallback, logger)

	gate := access.NewGate(store, logger)
	gate.AllowMalformedRideIDs = cfg.AllowMalformedRideIDs
	if cfg.AllowMalformedRideIDs {
		logger.Warn("malformed ride IDs are accepted by the authorization gate")
	}

	chatSvc := chat.New(store, gate, h, logger)

	rideDeps := rides.Deps{
		Store:    store,
		Rooms:    h,
		Notifier: notifier,
		Chat:     chatSvc,
		Drivers:  drivers,
		ETA:      estimator,
		Logger:   logger,
	}
	gwDeps := gateway.Deps{
		Hub:      h,
		Gate:     gate,
		Chat:     chatSvc,
		Store:    store,
		Replayer: notifier,
		Drivers:  drivers,
		Logger:   logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventsTopic)
		closers = append(closers, producer.Close)
		rideDeps.Events = producer
		gwDeps.Locations = producer
	}

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	if cfg.RelaxedAuth {
		logger.Warn("websocket handshakes without credentials get guest identities")
	}
	api := httpapi.NewServer(httpapi.Deps{
		Rides:         rides.New(rideDeps),
		Chat:          chatSvc,
		Notifications: notifier,
		Gateway:       gateway.New(gwDeps),
		Hub:           h,
		Verifier:      verifier,
		Authenticator: &auth.Authenticator{Verifier: verifier, RelaxedAuth: cfg.RelaxedAuth, Logger: logger},
		SendBuffer:    cfg.SendBuffer,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildFallback picks the offline delivery channel: the broker when one is
// configured, else a push provider, else none.
func buildFallback(cfg config.ServerConfig, logger *slog.Logger, closers *[]func() error) (dispatch.Fallback, error) {
	switch {
	case cfg.AMQPURL != "":
		a, err := dispatch.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		*closers = append(*closers, a.Close)
		logger.Info("offline notifications go to amqp", "exchange", cfg.AMQPExchange)
		return a, nil
	case cfg.PushEndpoint != "" && cfg.PushProvider == "fcm":
		logger.Info("offline notifications go to fcm")
		return dispatch.NewFCMFallback(cfg.PushEndpoint, cfg.PushKey), nil
	case cfg.PushEndpoint != "":
		logger.Info("offline notifications go to push webhook")
		return dispatch.NewPushFallback(cfg.PushEndpoint), nil
	}
	logger.Info("no offline notification channel, undelivered notifications wait for pull or reconnect")
	return nil, nil
}

func migrate(ctx context.Context, pg *storage.PostgresStore, dir string, logger *slog.Logger) error {
	const name = "001_create_dispatch.sql"
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := pg.DB().ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	logger.Info("migration applied", "file", name)
	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	crmsync "github.com/goliatone/go-crmsync"
	"github.com/goliatone/go-crmsync/adapters/gojob"
	"github.com/goliatone/go-crmsync/adapters/gologger"
	"github.com/goliatone/go-crmsync/adapters/prommetrics"
	"github.com/goliatone/go-crmsync/adapters/redislock"
	"github.com/goliatone/go-crmsync/adapters/zaplogger"
	"github.com/goliatone/go-crmsync/core"
	crmmigrations "github.com/goliatone/go-crmsync/migrations"
	"github.com/goliatone/go-crmsync/scheduler"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type dbConfig struct {
	driver string
	dsn    string
}

func (dbConfig) GetDebug() bool {
	return false
}

func (c dbConfig) GetDriver() string {
	return c.driver
}

func (c dbConfig) GetServer() string {
	return c.dsn
}

func (dbConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (dbConfig) GetOtelIdentifier() string {
	return "crmsyncd"
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("crmsyncd: %v", err)
	}
}

func run(ctx context.Context) error {
	settings, err := loadDaemonSettings(osLookup)
	if err != nil {
		return err
	}

	rootLogger, _, err := zaplogger.NewProduction(settings.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = rootLogger.Sync() }()
	provider := zaplogger.NewProvider(rootLogger)
	logger := provider.GetLogger(gologger.RootName)

	raw, err := rawConfigFromEnv(osLookup)
	if err != nil {
		return err
	}
	cfg, err := crmsync.ResolveConfig(ctx, crmsync.Config{}, core.StaticConfigLoader(raw))
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	client, err := openPersistence(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.New(registry)
	metrics.OnError(func(err error) {
		logger.Warn("metric registration failed", "error", err)
	})

	opts := append(gologger.ServiceOptions(provider, logger), crmsync.WithMetricsRecorder(metrics))
	if settings.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker, err := redislock.New(redisClient)
		if err != nil {
			return err
		}
		opts = append(opts, crmsync.WithRunLocker(locker))
	}

	runtime, err := crmsync.Setup(cfg, crmsync.SetupOptions{
		Persistence: client,
		AppKey:      settings.AppKey,
	}, opts...)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if settings.Token != "" {
		if err := runtime.Service.SetToken(ctx, settings.Token); err != nil {
			return fmt.Errorf("store webhook token: %w", err)
		}
	}

	sched, err := scheduler.New(cfg,
		scheduler.Direct(gojob.NewHandler(runtime.Service), nil),
		scheduler.WithLogger(provider.GetLogger(gologger.ComponentName("scheduler"))),
		scheduler.WithMetricsRecorder(metrics),
	)
	if err != nil {
		return err
	}
	if cfg.IsEnabled() {
		sched.Start(ctx)
	} else {
		logger.Warn("crmsync disabled, scheduler not started")
	}

	server := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           newMux(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("crmsyncd listening", "addr", settings.HTTPAddr, "driver", settings.DBDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop timed out", "error", err)
	}
	return server.Shutdown(shutdownCtx)
}

func newMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func openPersistence(ctx context.Context, settings daemonSettings) (*persistence.Client, error) {
	dialectName := crmmigrations.DialectForDriver(settings.DBDriver)
	var dialect schema.Dialect
	switch dialectName {
	case crmmigrations.DialectSQLite:
		dialect = sqlitedialect.New()
	case crmmigrations.DialectPostgres:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.DBDriver)
	}

	sqlDB, err := sql.Open(settings.DBDriver, settings.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialectName == crmmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(dbConfig{driver: settings.DBDriver, dsn: settings.DBDSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create persistence client: %w", err)
	}
	if err := crmmigrations.Apply(ctx, dialectName, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}, client.Migrate); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return client, nil
}

package main

import (
    "context"
    "errors"
    "fmt"
    "log"
    "net/http"
    "os/signal"
    "syscall"
    "time"

    "github.com/jonboulle/clockwork"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "golang.org/x/sync/errgroup"

    "scout/internal/adapters/crawler"
    "scout/internal/adapters/gemini"
    httpadapter "scout/internal/adapters/http"
    "scout/internal/adapters/memory"
    pg "scout/internal/adapters/postgres"
    rds "scout/internal/adapters/redis"
    "scout/internal/adapters/searchindex"
    "scout/internal/config"
    "scout/internal/ports"
    "scout/internal/services/chat"
    "scout/internal/services/pipeline"
    "scout/internal/services/profiles"
    "scout/internal/services/runs"
    "scout/internal/services/selection"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("config: %v", err)
    }
    logger, err := newLogger(cfg)
    if err != nil {
        log.Fatalf("logger: %v", err)
    }
    defer func() { _ = logger.Sync() }()

    if err := run(cfg, logger); err != nil {
        logger.Fatal("server exited", zap.Error(err))
    }
}

func run(cfg config.Config, logger *zap.Logger) error {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    clock := clockwork.NewRealClock()

    store, err := openStore(ctx, cfg, clock, logger)
    if err != nil {
        return err
    }
    defer store.Close()

    index, err := searchindex.Open(ctx, cfg.IndexPath, clock, logger)
    if err != nil {
        return err
    }
    defer index.Close()

    analyzer, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, logger)
    if err != nil {
        return err
    }
    mapper := crawler.New(crawler.Config{
        UserAgent: cfg.UserAgent,
        Rate:      cfg.ScrapeRate,
        Timeout:   cfg.ScrapeTimeout,
    }, logger)

    pipe := pipeline.New(store, mapper, analyzer, index, clock, logger, pipeline.Config{
        PageLimit:         cfg.PageLimit,
        MaxRetries:        uint64(max(cfg.MaxRetries, 0)),
        RetryBase:         cfg.RetryBase,
        IndexPollInterval: cfg.IndexPollInterval,
        IndexTimeout:      cfg.IndexTimeout,
    })
    coordinator := runs.New(pipe, clock, logger, cfg.ReplayRetention)

    api := httpadapter.New(
        coordinator,
        profiles.New(store, clock),
        selection.New(mapper, cfg.PageLimit),
        chat.New(store, index, analyzer, logger),
        logger,
    )
    srv := &http.Server{
        Addr:              cfg.ListenAddr,
        Handler:           api.Routes(),
        ReadHeaderTimeout: 10 * time.Second,
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreBackend))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return fmt.Errorf("server error: %w", err)
        }
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        logger.Info("shutting down")
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        defer cancel()
        // cancel runs first so open event streams receive their terminal frame
        if err := coordinator.Shutdown(shutdownCtx); err != nil {
            logger.Warn("runs did not stop in time", zap.Error(err))
        }
        return srv.Shutdown(shutdownCtx)
    })
    return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, clock clockwork.Clock, logger *zap.Logger) (ports.Store, error) {
    switch cfg.StoreBackend {
    case config.BackendPostgres:
        db, err := pg.Connect(ctx, cfg.DatabaseURL, clock)
        if err != nil {
            return nil, fmt.Errorf("db connect error: %w", err)
        }
        if err := db.Migrate(ctx); err != nil {
            _ = db.Close()
            return nil, err
        }
        return db, nil
    case config.BackendRedis:
        rdb, err := rds.Connect(ctx, cfg.RedisURL)
        if err != nil {
            return nil, fmt.Errorf("redis connect error: %w", err)
        }
        return rds.New(rdb, clock, rds.WithPrefix(cfg.RedisPrefix)), nil
    default:
        logger.Warn("using in-memory store; data is lost on restart")
        return memory.New(clock), nil
    }
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
    zc := zap.NewProductionConfig()
    if cfg.Env == "development" {
        zc = zap.NewDevelopmentConfig()
    }
    level, err := zapcore.ParseLevel(cfg.LogLevel)
    if err != nil {
        return nil, err
    }
    zc.Level = zap.NewAtomicLevelAt(level)
    return zc.Build(zap.Fields(zap.String("service", "scout")))
}

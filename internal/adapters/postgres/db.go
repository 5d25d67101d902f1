package postgres

import (
    "context"
    "embed"
    "fmt"
    "io/fs"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/jackc/pgx/v5/stdlib"
    "github.com/jonboulle/clockwork"
    "github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DB struct {
    Pool  *pgxpool.Pool
    clock clockwork.Clock
    newID func() string
}

type Option func(*DB)

func WithIDs(fn func() string) Option { return func(db *DB) { db.newID = fn } }

func Connect(ctx context.Context, url string, clock clockwork.Clock, opts ...Option) (*DB, error) {
    cfg, err := pgxpool.ParseConfig(url)
    if err != nil {
        return nil, err
    }
    cfg.MaxConns = 10
    cfg.HealthCheckPeriod = 30 * time.Second
    pool, err := pgxpool.NewWithConfig(ctx, cfg)
    if err != nil {
        return nil, err
    }
    if err := pool.Ping(ctx); err != nil {
        pool.Close()
        return nil, err
    }
    db := &DB{Pool: pool, clock: clock, newID: uuid.NewString}
    for _, opt := range opts {
        opt(db)
    }
    return db, nil
}

// Migrate applies the embedded goose migrations.
func (db *DB) Migrate(ctx context.Context) error {
    fsys, err := fs.Sub(migrations, "migrations")
    if err != nil {
        return err
    }
    sqlDB := stdlib.OpenDBFromPool(db.Pool)
    defer sqlDB.Close()
    provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
    if err != nil {
        return fmt.Errorf("goose provider: %w", err)
    }
    if _, err := provider.Up(ctx); err != nil {
        return fmt.Errorf("migrate: %w", err)
    }
    return nil
}

func (db *DB) Close() error {
    db.Pool.Close()
    return nil
}

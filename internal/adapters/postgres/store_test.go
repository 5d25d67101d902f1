package postgres

import (
    "context"
    "os"
    "testing"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/require"

    "scout/internal/adapters/memory"
    "scout/internal/adapters/storetest"
    "scout/internal/ports"
)

// These tests need a disposable database; set TEST_DATABASE_URL to run them.
func factory(t *testing.T, clock clockwork.Clock, ids func() string) ports.Store {
    url := os.Getenv("TEST_DATABASE_URL")
    if url == "" {
        t.Skip("TEST_DATABASE_URL not set")
    }
    ctx := context.Background()
    db, err := Connect(ctx, url, clock, WithIDs(ids))
    require.NoError(t, err)
    require.NoError(t, db.Migrate(ctx))
    _, err = db.Pool.Exec(ctx, `TRUNCATE snapshots, snapshot_pages, profiles`)
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })
    return db
}

func TestConformance(t *testing.T) {
    storetest.Conformance(t, factory)
}

func TestEquivalentToMemory(t *testing.T) {
    storetest.Equivalent(t, func(t *testing.T, clock clockwork.Clock, ids func() string) ports.Store {
        return memory.New(clock, memory.WithIDs(ids))
    }, factory)
}

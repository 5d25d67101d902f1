package redis

import (
    "testing"

    "github.com/alicebob/miniredis/v2"
    "github.com/jonboulle/clockwork"
    goredis "github.com/redis/go-redis/v9"

    "scout/internal/adapters/memory"
    "scout/internal/adapters/storetest"
    "scout/internal/ports"
)

func factory(t *testing.T, clock clockwork.Clock, ids func() string) ports.Store {
    srv := miniredis.RunT(t)
    rdb := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    return New(rdb, clock, WithIDs(ids), WithPrefix("test:"))
}

func TestConformance(t *testing.T) {
    storetest.Conformance(t, factory)
}

func TestEquivalentToMemory(t *testing.T) {
    storetest.Equivalent(t, func(t *testing.T, clock clockwork.Clock, ids func() string) ports.Store {
        return memory.New(clock, memory.WithIDs(ids))
    }, factory)
}

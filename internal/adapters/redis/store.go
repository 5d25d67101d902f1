package redis

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"

    "github.com/google/uuid"
    "github.com/jonboulle/clockwork"
    goredis "github.com/redis/go-redis/v9"

    "scout/internal/domain"
)

// maxTxRetries bounds optimistic-lock retries when a watched key changes
// underneath a read-modify-write.
const maxTxRetries = 5

// getter is satisfied by both *goredis.Client and *goredis.Tx.
type getter interface {
    Get(ctx context.Context, key string) *goredis.StringCmd
}

// Store persists records as JSON values in Redis. Snapshots are indexed by
// creation time in a sorted set so history reads come back newest first.
type Store struct {
    rdb    *goredis.Client
    clock  clockwork.Clock
    prefix string
    newID  func() string
}

type Option func(*Store)

func WithIDs(fn func() string) Option { return func(s *Store) { s.newID = fn } }

func WithPrefix(prefix string) Option { return func(s *Store) { s.prefix = prefix } }

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
    opts, err := goredis.ParseURL(url)
    if err != nil {
        return nil, err
    }
    rdb := goredis.NewClient(opts)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return rdb, nil
}

func New(rdb *goredis.Client, clock clockwork.Clock, opts ...Option) *Store {
    s := &Store{rdb: rdb, clock: clock, prefix: "scout:", newID: uuid.NewString}
    for _, opt := range opts {
        opt(s)
    }
    return s
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) snapshotKey(id string) string { return s.prefix + "snapshot:" + id }
func (s *Store) pagesKey(id string) string    { return s.prefix + "snapshot:" + id + ":pages" }
func (s *Store) indexKey() string             { return s.prefix + "snapshots" }
func (s *Store) profileKey() string           { return s.prefix + "profile:" + domain.ProfileID }

func (s *Store) CreateSnapshot(ctx context.Context, domainName string) (domain.Snapshot, error) {
    snap := domain.NewSnapshot(s.newID(), domainName, s.clock.Now())
    b, err := encode(snap)
    if err != nil {
        return domain.Snapshot{}, err
    }
    _, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
        pipe.Set(ctx, s.snapshotKey(snap.ID), b, 0)
        pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(snap.CreatedAt.UnixMicro()), Member: snap.ID})
        return nil
    })
    if err != nil {
        return domain.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
    }
    return snap, nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, id string, u domain.SnapshotUpdate) (domain.Snapshot, error) {
    key := s.snapshotKey(id)
    var out domain.Snapshot
    err := s.withRetry(ctx, func(tx *goredis.Tx) error {
        snap, err := s.readSnapshot(ctx, tx, id)
        if err != nil {
            return err
        }
        snap.Apply(u)
        b, err := encode(snap)
        if err != nil {
            return err
        }
        _, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
            pipe.Set(ctx, key, b, 0)
            return nil
        })
        out = snap
        return err
    }, key)
    return out, err
}

func (s *Store) ReplaceSnapshotPages(ctx context.Context, id string, pages []domain.Page) error {
    if pages == nil {
        pages = []domain.Page{}
    }
    b, err := encode(pages)
    if err != nil {
        return err
    }
    return s.withRetry(ctx, func(tx *goredis.Tx) error {
        n, err := tx.Exists(ctx, s.snapshotKey(id)).Result()
        if err != nil {
            return err
        }
        if n == 0 {
            return domain.NotFound("snapshot", id)
        }
        _, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
            pipe.Set(ctx, s.pagesKey(id), b, 0)
            return nil
        })
        return err
    }, s.snapshotKey(id))
}

func (s *Store) ListSnapshotPages(ctx context.Context, id string) ([]domain.Page, error) {
    n, err := s.rdb.Exists(ctx, s.snapshotKey(id)).Result()
    if err != nil {
        return nil, err
    }
    if n == 0 {
        return nil, domain.NotFound("snapshot", id)
    }
    raw, err := s.rdb.Get(ctx, s.pagesKey(id)).Bytes()
    if errors.Is(err, goredis.Nil) {
        return []domain.Page{}, nil
    }
    if err != nil {
        return nil, err
    }
    var pages []domain.Page
    if err := json.Unmarshal(raw, &pages); err != nil {
        return nil, fmt.Errorf("decode pages %s: %w", id, err)
    }
    return pages, nil
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
    stop := int64(-1)
    if limit > 0 {
        stop = int64(limit - 1)
    }
    ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
    if err != nil {
        return nil, err
    }
    if len(ids) == 0 {
        return []domain.Snapshot{}, nil
    }
    keys := make([]string, len(ids))
    for i, id := range ids {
        keys[i] = s.snapshotKey(id)
    }
    vals, err := s.rdb.MGet(ctx, keys...).Result()
    if err != nil {
        return nil, err
    }
    out := make([]domain.Snapshot, 0, len(vals))
    for i, v := range vals {
        str, ok := v.(string)
        if !ok {
            // index entry outlived its record; skip it
            continue
        }
        var snap domain.Snapshot
        if err := json.Unmarshal([]byte(str), &snap); err != nil {
            return nil, fmt.Errorf("decode snapshot %s: %w", ids[i], err)
        }
        out = append(out, snap)
    }
    return out, nil
}

func (s *Store) GetSnapshotByID(ctx context.Context, id string) (domain.Snapshot, error) {
    return s.readSnapshot(ctx, s.rdb, id)
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
    var del *goredis.IntCmd
    _, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
        del = pipe.Del(ctx, s.snapshotKey(id))
        pipe.Del(ctx, s.pagesKey(id))
        pipe.ZRem(ctx, s.indexKey(), id)
        return nil
    })
    if err != nil {
        return fmt.Errorf("delete snapshot: %w", err)
    }
    if del.Val() == 0 {
        return domain.NotFound("snapshot", id)
    }
    return nil
}

func (s *Store) GetProfile(ctx context.Context) (domain.Profile, bool, error) {
    raw, err := s.rdb.Get(ctx, s.profileKey()).Bytes()
    if errors.Is(err, goredis.Nil) {
        return domain.Profile{}, false, nil
    }
    if err != nil {
        return domain.Profile{}, false, err
    }
    var p domain.Profile
    if err := json.Unmarshal(raw, &p); err != nil {
        return domain.Profile{}, false, fmt.Errorf("decode profile: %w", err)
    }
    return p, true, nil
}

func (s *Store) UpsertProfile(ctx context.Context, u domain.ProfileUpdate) (domain.Profile, error) {
    key := s.profileKey()
    var out domain.Profile
    err := s.withRetry(ctx, func(tx *goredis.Tx) error {
        now := s.clock.Now()
        p := domain.NewProfile(now)
        raw, err := tx.Get(ctx, key).Bytes()
        switch {
        case errors.Is(err, goredis.Nil):
        case err != nil:
            return err
        default:
            if err := json.Unmarshal(raw, &p); err != nil {
                return fmt.Errorf("decode profile: %w", err)
            }
        }
        p.Apply(u, now)
        b, err := encode(p)
        if err != nil {
            return err
        }
        _, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
            pipe.Set(ctx, key, b, 0)
            return nil
        })
        out = p
        return err
    }, key)
    return out, err
}

func (s *Store) readSnapshot(ctx context.Context, c getter, id string) (domain.Snapshot, error) {
    raw, err := c.Get(ctx, s.snapshotKey(id)).Bytes()
    if errors.Is(err, goredis.Nil) {
        return domain.Snapshot{}, domain.NotFound("snapshot", id)
    }
    if err != nil {
        return domain.Snapshot{}, err
    }
    var snap domain.Snapshot
    if err := json.Unmarshal(raw, &snap); err != nil {
        return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
    }
    return snap, nil
}

func (s *Store) withRetry(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
    for i := 0; i < maxTxRetries; i++ {
        err := s.rdb.Watch(ctx, fn, keys...)
        if errors.Is(err, goredis.TxFailedErr) {
            continue
        }
        return err
    }
    return fmt.Errorf("redis: too much contention on %v", keys)
}

// encode marshals v without HTML escaping so opaque payloads round-trip
// byte-identical.
func encode(v any) ([]byte, error) {
    var buf bytes.Buffer
    enc := json.NewEncoder(&buf)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(v); err != nil {
        return nil, err
    }
    return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

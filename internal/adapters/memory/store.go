package memory

import (
    "context"
    "sort"
    "sync"

    "github.com/google/uuid"
    "github.com/jonboulle/clockwork"

    "scout/internal/domain"
)

// Store keeps every record in process memory. Reads and writes copy values
// in and out so callers never share state with the store.
type Store struct {
    mu        sync.RWMutex
    clock     clockwork.Clock
    newID     func() string
    snapshots map[string]domain.Snapshot
    pages     map[string][]domain.Page
    profile   *domain.Profile
}

type Option func(*Store)

// WithIDs overrides snapshot id generation.
func WithIDs(fn func() string) Option { return func(s *Store) { s.newID = fn } }

func New(clock clockwork.Clock, opts ...Option) *Store {
    s := &Store{
        clock:     clock,
        newID:     uuid.NewString,
        snapshots: make(map[string]domain.Snapshot),
        pages:     make(map[string][]domain.Page),
    }
    for _, opt := range opts {
        opt(s)
    }
    return s
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateSnapshot(ctx context.Context, domainName string) (domain.Snapshot, error) {
    snap := domain.NewSnapshot(s.newID(), domainName, s.clock.Now())
    s.mu.Lock()
    defer s.mu.Unlock()
    s.snapshots[snap.ID] = snap
    return snap.Clone(), nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, id string, u domain.SnapshotUpdate) (domain.Snapshot, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    snap, ok := s.snapshots[id]
    if !ok {
        return domain.Snapshot{}, domain.NotFound("snapshot", id)
    }
    snap = snap.Clone()
    snap.Apply(u)
    s.snapshots[id] = snap
    return snap.Clone(), nil
}

func (s *Store) ReplaceSnapshotPages(ctx context.Context, id string, pages []domain.Page) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.snapshots[id]; !ok {
        return domain.NotFound("snapshot", id)
    }
    s.pages[id] = append([]domain.Page{}, pages...)
    return nil
}

func (s *Store) ListSnapshotPages(ctx context.Context, id string) ([]domain.Page, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if _, ok := s.snapshots[id]; !ok {
        return nil, domain.NotFound("snapshot", id)
    }
    out := append([]domain.Page{}, s.pages[id]...)
    sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
    return out, nil
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
    s.mu.RLock()
    out := make([]domain.Snapshot, 0, len(s.snapshots))
    for _, snap := range s.snapshots {
        out = append(out, snap.Clone())
    }
    s.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool {
        if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
            return out[i].CreatedAt.After(out[j].CreatedAt)
        }
        return out[i].ID > out[j].ID
    })
    if limit > 0 && len(out) > limit {
        out = out[:limit]
    }
    return out, nil
}

func (s *Store) GetSnapshotByID(ctx context.Context, id string) (domain.Snapshot, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    snap, ok := s.snapshots[id]
    if !ok {
        return domain.Snapshot{}, domain.NotFound("snapshot", id)
    }
    return snap.Clone(), nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.snapshots[id]; !ok {
        return domain.NotFound("snapshot", id)
    }
    delete(s.snapshots, id)
    delete(s.pages, id)
    return nil
}

func (s *Store) GetProfile(ctx context.Context) (domain.Profile, bool, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if s.profile == nil {
        return domain.Profile{}, false, nil
    }
    return s.profile.Clone(), true, nil
}

func (s *Store) UpsertProfile(ctx context.Context, u domain.ProfileUpdate) (domain.Profile, error) {
    now := s.clock.Now()
    s.mu.Lock()
    defer s.mu.Unlock()
    var p domain.Profile
    if s.profile == nil {
        p = domain.NewProfile(now)
    } else {
        p = s.profile.Clone()
    }
    p.Apply(u, now)
    s.profile = &p
    return p.Clone(), nil
}

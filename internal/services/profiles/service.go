package profiles

import (
    "context"

    "github.com/jonboulle/clockwork"

    "scout/internal/domain"
    "scout/internal/ports"
)

// DefaultHistory is the snapshot history length returned when none is asked for.
const DefaultHistory = 20

type Service struct {
    store ports.Store
    clock clockwork.Clock
}

func New(store ports.Store, clock clockwork.Clock) *Service {
    return &Service{store: store, clock: clock}
}

// GetLatest returns the current profile and snapshot history, newest first.
// Before the first run the profile is reported in its not_configured state.
func (s *Service) GetLatest(ctx context.Context, limit int) (domain.ProfileOverview, error) {
    if limit <= 0 {
        limit = DefaultHistory
    }
    prof, found, err := s.store.GetProfile(ctx)
    if err != nil {
        return domain.ProfileOverview{}, err
    }
    if !found {
        prof = domain.NewProfile(s.clock.Now())
    }
    snaps, err := s.store.ListSnapshots(ctx, limit)
    if err != nil {
        return domain.ProfileOverview{}, err
    }
    return domain.ProfileOverview{Profile: prof, Snapshots: snaps}, nil
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (domain.SnapshotDetail, error) {
    snap, err := s.store.GetSnapshotByID(ctx, id)
    if err != nil {
        return domain.SnapshotDetail{}, err
    }
    pages, err := s.store.ListSnapshotPages(ctx, id)
    if err != nil {
        return domain.SnapshotDetail{}, err
    }
    return domain.SnapshotDetail{Snapshot: snap, Pages: pages}, nil
}

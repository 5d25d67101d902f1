package ports

import (
    "context"

    "scout/internal/domain"
)

// SnapshotRepository persists snapshot runs and their scraped pages.
type SnapshotRepository interface {
    CreateSnapshot(ctx context.Context, domainName string) (domain.Snapshot, error)
    // UpdateSnapshot fails with a domain.ErrNotFound error when id is unknown.
    UpdateSnapshot(ctx context.Context, id string, u domain.SnapshotUpdate) (domain.Snapshot, error)
    // ReplaceSnapshotPages replaces the full page set; it never appends.
    ReplaceSnapshotPages(ctx context.Context, id string, pages []domain.Page) error
    ListSnapshotPages(ctx context.Context, id string) ([]domain.Page, error)
    // ListSnapshots returns newest first. limit <= 0 returns everything.
    ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error)
    GetSnapshotByID(ctx context.Context, id string) (domain.Snapshot, error)
    DeleteSnapshot(ctx context.Context, id string) error
}

// ProfileRepository stores the singleton company profile.
type ProfileRepository interface {
    GetProfile(ctx context.Context) (p domain.Profile, found bool, err error)
    UpsertProfile(ctx context.Context, u domain.ProfileUpdate) (domain.Profile, error)
}

// Store is the full persistence contract. Every backend must produce
// field-for-field equal records for the same operation sequence.
type Store interface {
    SnapshotRepository
    ProfileRepository
    Close() error
}

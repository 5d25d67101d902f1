package ports

import (
    "context"

    "scout/internal/domain"
)

// EventStream delivers a run's events to one listener.
type EventStream interface {
    // Next returns io.EOF once the run has finished and the stream is drained.
    Next(ctx context.Context) (domain.Event, error)
    Close()
}

// Runs starts, observes and cancels collection runs.
type Runs interface {
    StartRun(ctx context.Context, domainName string, pageLimit int) (snapshotID string, err error)
    Subscribe(snapshotID string, replay bool) (EventStream, error)
    Cancel(snapshotID, reason string) (bool, error)
    Wait(ctx context.Context, snapshotID string) (domain.Event, error)
}

// Profiles reads the profile and its snapshot history.
type Profiles interface {
    GetLatest(ctx context.Context, limit int) (domain.ProfileOverview, error)
    GetSnapshot(ctx context.Context, id string) (domain.SnapshotDetail, error)
}

// Previewer ranks a site's pages without starting a run.
type Previewer interface {
    Preview(ctx context.Context, domainName string, limit int) (domain.Preview, error)
}

// ChatTurn is one user request against a snapshot. Question, when set, is
// appended to Messages as a user message.
type ChatTurn struct {
    Messages []ChatMessage `json:"messages"`
    Question string        `json:"question"`
}

// Chat answers questions about a published snapshot.
type Chat interface {
    Prepare(ctx context.Context, snapshotID string, turn ChatTurn) (domain.Snapshot, []ChatMessage, error)
    Turn(ctx context.Context, snap domain.Snapshot, msgs []ChatMessage, emit func(domain.Event))
}

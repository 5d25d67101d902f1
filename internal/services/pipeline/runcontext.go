package pipeline

import (
    "context"
    "errors"
    "sync/atomic"

    "github.com/jonboulle/clockwork"
    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
)

// DefaultCancelReason is reported when a run is cancelled without a reason.
const DefaultCancelReason = "Run cancelled"

// Sink receives every event a run emits, in order.
type Sink func(domain.Event)

// RunContext wraps one snapshot for the duration of a run. It is the only
// path through which stages touch the store or emit events.
type RunContext struct {
    ctx        context.Context
    store      ports.Store
    sink       Sink
    clock      clockwork.Clock
    log        *zap.Logger
    domain     string
    snapshotID string
    terminated atomic.Bool
}

func newRunContext(ctx context.Context, store ports.Store, sink Sink, clock clockwork.Clock, log *zap.Logger, domainName string) *RunContext {
    return &RunContext{ctx: ctx, store: store, sink: sink, clock: clock, log: log, domain: domainName}
}

func (rc *RunContext) Context() context.Context { return rc.ctx }
func (rc *RunContext) SnapshotID() string       { return rc.snapshotID }
func (rc *RunContext) Domain() string           { return rc.domain }

// Terminated reports whether a terminal event has been emitted.
func (rc *RunContext) Terminated() bool { return rc.terminated.Load() }

func (rc *RunContext) bind(snapshotID string) {
    rc.snapshotID = snapshotID
    rc.log = rc.log.With(zap.String("snapshot_id", snapshotID))
}

// rebind moves the run to a new canonical domain discovered mid-run.
func (rc *RunContext) rebind(domainName string) {
    rc.log.Info("domain remapped", zap.String("from", rc.domain), zap.String("to", domainName))
    rc.domain = domainName
}

// ThrowIfCancelled returns a *domain.RunCancelledError once the run's
// context has been cancelled.
func (rc *RunContext) ThrowIfCancelled(stage string) error {
    if rc.ctx.Err() == nil {
        return nil
    }
    return &domain.RunCancelledError{Stage: stage, Reason: CancelReason(rc.ctx)}
}

// CancelReason extracts the reason attached to a cancelled context.
func CancelReason(ctx context.Context) string {
    var rce *domain.RunCancelledError
    if errors.As(context.Cause(ctx), &rce) && rce.Reason != "" {
        return rce.Reason
    }
    return DefaultCancelReason
}

// EmitStage persists progress and emits a status event. Persistence is
// best-effort: failures are logged and the run continues.
func (rc *RunContext) EmitStage(stage string, completed, total *int) {
    if rc.Terminated() {
        return
    }
    if rc.snapshotID != "" {
        progress := &domain.Progress{Stage: stage, Completed: completed, Total: total, UpdatedAt: rc.clock.Now()}
        if _, err := rc.store.UpdateSnapshot(rc.ctx, rc.snapshotID, domain.SnapshotUpdate{Progress: domain.Some(progress)}); err != nil {
            rc.log.Warn("persist progress", zap.String("stage", stage), zap.Error(err))
        }
    }
    rc.EmitEvent(domain.Event{Type: domain.EventStatus, Stage: stage, Completed: completed, Total: total})
}

// EmitEvent stamps the run identity onto ev and forwards it to the sink.
func (rc *RunContext) EmitEvent(ev domain.Event) {
    ev.SnapshotID = rc.snapshotID
    ev.Domain = rc.domain
    if ev.Type.Terminal() {
        rc.terminated.Store(true)
    }
    rc.sink(ev)
}

func (rc *RunContext) UpdateSnapshot(u domain.SnapshotUpdate) (domain.Snapshot, error) {
    return rc.store.UpdateSnapshot(rc.ctx, rc.snapshotID, u)
}

func (rc *RunContext) ReplaceSnapshotPages(pages []domain.Page) error {
    return rc.store.ReplaceSnapshotPages(rc.ctx, rc.snapshotID, pages)
}

func (rc *RunContext) UpsertProfile(u domain.ProfileUpdate) (domain.Profile, error) {
    return rc.store.UpsertProfile(rc.ctx, u)
}

func (rc *RunContext) GetProfile() (domain.Profile, bool, error) {
    return rc.store.GetProfile(rc.ctx)
}

func (rc *RunContext) DeleteSnapshot() error {
    return rc.store.DeleteSnapshot(rc.ctx, rc.snapshotID)
}

package pipeline

import (
    "context"
    "errors"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/sethvargo/go-retry"
    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
)

type Config struct {
    PageLimit         int
    MaxRetries        uint64
    RetryBase         time.Duration
    IndexPollInterval time.Duration
    IndexTimeout      time.Duration
}

func (c Config) withDefaults() Config {
    if c.PageLimit <= 0 {
        c.PageLimit = 8
    }
    if c.RetryBase <= 0 {
        c.RetryBase = 500 * time.Millisecond
    }
    if c.IndexPollInterval <= 0 {
        c.IndexPollInterval = 2 * time.Second
    }
    if c.IndexTimeout <= 0 {
        c.IndexTimeout = 2 * time.Minute
    }
    return c
}

// Request starts one run.
type Request struct {
    Domain    string
    PageLimit int
}

// Pipeline runs the five stages of a collection run against its
// collaborators. A Pipeline is safe for concurrent runs; per-run state
// lives in RunContext and runState.
type Pipeline struct {
    store    ports.Store
    mapper   ports.SiteMapper
    analyzer ports.Analyzer
    index    ports.IndexPublisher
    clock    clockwork.Clock
    log      *zap.Logger
    cfg      Config
}

// New wires a pipeline. index may be nil, in which case publishing is skipped.
func New(store ports.Store, mapper ports.SiteMapper, analyzer ports.Analyzer, index ports.IndexPublisher, clock clockwork.Clock, log *zap.Logger, cfg Config) *Pipeline {
    return &Pipeline{
        store:    store,
        mapper:   mapper,
        analyzer: analyzer,
        index:    index,
        clock:    clock,
        log:      log.Named("pipeline"),
        cfg:      cfg.withDefaults(),
    }
}

// runState carries stage outputs forward.
type runState struct {
    req        Request
    previous   domain.Profile
    startedAt  time.Time
    linksFound int
    selected   []string
    pages      []domain.Page
    failed     int
    favicon    *string
    structured domain.StructuredPayload
    overview   string
}

// Run executes every stage for req.Domain, emitting events to sink. Exactly
// one terminal event reaches the sink unless the run fails before its
// snapshot exists, in which case a run-error without snapshot id is emitted.
// The returned error is nil on success.
func (p *Pipeline) Run(ctx context.Context, req Request, sink Sink) error {
    rc := newRunContext(ctx, p.store, sink, p.clock, p.log.With(zap.String("domain", req.Domain)), req.Domain)
    st := &runState{req: req}
    if st.req.PageLimit <= 0 {
        st.req.PageLimit = p.cfg.PageLimit
    }

    if err := p.initialise(rc, st); err != nil {
        if rc.SnapshotID() == "" {
            rc.log.Error("run failed before snapshot creation", zap.Error(err))
            rc.EmitEvent(domain.Event{Type: domain.EventRunError, Message: err.Error()})
            return err
        }
        return p.abort(rc, st, err)
    }

    stages := []func(*RunContext, *runState) error{
        p.mapAndScrape,
        p.structuredAnalysis,
        p.overviewAnalysis,
        p.persistResults,
    }
    for _, stage := range stages {
        if err := stage(rc, st); err != nil {
            return p.abort(rc, st, err)
        }
    }
    p.publishIndex(rc, st)
    return nil
}

// abort performs the compensating write for a failed or cancelled run and
// emits its terminal event.
func (p *Pipeline) abort(rc *RunContext, st *runState, cause error) error {
    ctx := context.WithoutCancel(rc.Context())
    var cancelled *domain.RunCancelledError
    if !errors.As(cause, &cancelled) && rc.Context().Err() != nil {
        cancelled = &domain.RunCancelledError{Stage: "in-flight", Reason: CancelReason(rc.Context())}
    }

    if cancelled != nil {
        rc.log.Info("run cancelled", zap.String("stage", cancelled.Stage), zap.String("reason", cancelled.Reason))
        if err := p.store.DeleteSnapshot(ctx, rc.SnapshotID()); err != nil {
            rc.log.Error("delete cancelled snapshot", zap.Error(err))
        }
        restore := st.previous.RestoreUpdate()
        restore.ActiveSnapshotID = domain.Some[*string](nil)
        restore.ActiveSnapshotStartedAt = domain.Some[*time.Time](nil)
        if _, err := p.store.UpsertProfile(ctx, restore); err != nil {
            rc.log.Error("restore profile", zap.Error(err))
        }
        rc.EmitEvent(domain.Event{Type: domain.EventRunCancelled, Reason: cancelled.Reason})
        return cancelled
    }

    msg := cause.Error()
    rc.log.Error("run failed", zap.Error(cause))
    now := p.clock.Now()
    if _, err := p.store.UpdateSnapshot(ctx, rc.SnapshotID(), domain.SnapshotUpdate{
        Status:      domain.Some(domain.SnapshotFailed),
        Error:       domain.Some(&msg),
        CompletedAt: domain.Some(&now),
    }); err != nil {
        rc.log.Error("mark snapshot failed", zap.Error(err))
    }
    restore := st.previous.RestoreUpdate()
    restore.Status = domain.Some(domain.ProfileFailed)
    restore.LastError = domain.Some(&msg)
    restore.ActiveSnapshotID = domain.Some[*string](nil)
    restore.ActiveSnapshotStartedAt = domain.Some[*time.Time](nil)
    if _, err := p.store.UpsertProfile(ctx, restore); err != nil {
        rc.log.Error("record profile failure", zap.Error(err))
    }
    rc.EmitEvent(domain.Event{Type: domain.EventRunError, Message: msg})
    return cause
}

// withRetry retries fn with exponential backoff while the upstream reports
// rate limiting. Any other error is returned immediately.
func (p *Pipeline) withRetry(ctx context.Context, what string, fn func(ctx context.Context) error) error {
    b := retry.NewExponential(p.cfg.RetryBase)
    b = retry.WithJitterPercent(10, b)
    b = retry.WithMaxRetries(p.cfg.MaxRetries, b)
    return retry.Do(ctx, b, func(ctx context.Context) error {
        err := fn(ctx)
        if domain.IsRateLimited(err) {
            p.log.Warn("rate limited, backing off", zap.String("call", what), zap.Error(err))
            return retry.RetryableError(err)
        }
        return err
    })
}

package runs

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/mohae/deepcopy"
    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
    "scout/internal/services/pipeline"
)

// ShutdownReason is attached to runs cancelled by Shutdown.
const ShutdownReason = "server shutting down"

// ErrClosed is returned by StartRun after Shutdown.
var ErrClosed = errors.New("coordinator is shut down")

// Runner executes one run, sending every event to sink.
type Runner interface {
    Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error
}

// Info describes a session.
type Info struct {
    SnapshotID string                `json:"snapshotId"`
    Domain     string                `json:"domain"`
    Status     domain.SnapshotStatus `json:"status"`
    StartedAt  time.Time             `json:"startedAt"`
    Events     int                   `json:"events"`
}

type session struct {
    id        string
    domainKey string
    startedAt time.Time
    cancel    context.CancelCauseFunc
    cancelled bool
    status    domain.SnapshotStatus
    buffer    []domain.Event
    subs      map[*Subscription]struct{}
    finished  bool
    runErr    error

    ready     chan struct{}
    readyOnce sync.Once
    done      chan struct{}
    expiry    clockwork.Timer
}

func (s *session) resolve() { s.readyOnce.Do(func() { close(s.ready) }) }

func (s *session) running() bool { return s.status == domain.SnapshotRunning }

// Coordinator owns the registry of run sessions and guarantees at most one
// active session per domain key. Finished sessions stay replayable for the
// retention window.
type Coordinator struct {
    runner    Runner
    clock     clockwork.Clock
    log       *zap.Logger
    retention time.Duration

    mu       sync.Mutex
    byDomain map[string]*session
    byID     map[string]*session
    active   map[*session]struct{}
    closed   bool
    wg       sync.WaitGroup
}

func New(runner Runner, clock clockwork.Clock, log *zap.Logger, retention time.Duration) *Coordinator {
    if retention <= 0 {
        retention = 30 * time.Second
    }
    return &Coordinator{
        runner:    runner,
        clock:     clock,
        log:       log.Named("runs"),
        retention: retention,
        byDomain:  make(map[string]*session),
        byID:      make(map[string]*session),
        active:    make(map[*session]struct{}),
    }
}

// StartRun launches a run for the given domain and returns its snapshot id
// once the run has created it. If the domain already has an active session
// the result is a *domain.ConflictError naming that session's snapshot.
func (c *Coordinator) StartRun(ctx context.Context, rawDomain string, pageLimit int) (string, error) {
    key := domain.DomainKey(rawDomain)
    if key == "" {
        return "", &domain.ValidationError{Field: "domain", Message: "must be a hostname or URL"}
    }

    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return "", ErrClosed
    }
    if existing := c.byDomain[key]; existing != nil {
        c.mu.Unlock()
        id, err := c.awaitID(ctx, existing)
        if err != nil {
            return "", err
        }
        return "", &domain.ConflictError{Domain: key, SnapshotID: id}
    }
    runCtx, cancel := context.WithCancelCause(context.Background())
    s := &session{
        domainKey: key,
        startedAt: c.clock.Now(),
        cancel:    cancel,
        status:    domain.SnapshotRunning,
        subs:      make(map[*Subscription]struct{}),
        ready:     make(chan struct{}),
        done:      make(chan struct{}),
    }
    c.byDomain[key] = s
    c.active[s] = struct{}{}
    c.wg.Add(1)
    c.mu.Unlock()

    c.log.Info("run starting", zap.String("domain", key))
    go c.execute(runCtx, s, pipeline.Request{Domain: key, PageLimit: pageLimit})

    id, err := c.awaitID(ctx, s)
    if err != nil {
        return "", err
    }
    if id == "" {
        c.mu.Lock()
        runErr := s.runErr
        c.mu.Unlock()
        if runErr == nil {
            runErr = errors.New("run ended before creating a snapshot")
        }
        return "", runErr
    }
    return id, nil
}

func (c *Coordinator) awaitID(ctx context.Context, s *session) (string, error) {
    select {
    case <-s.ready:
    case <-ctx.Done():
        return "", ctx.Err()
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    return s.id, nil
}

func (c *Coordinator) execute(ctx context.Context, s *session, req pipeline.Request) {
    defer c.wg.Done()
    err := c.runner.Run(ctx, req, func(ev domain.Event) { c.publish(s, ev) })
    s.cancel(nil)
    c.finish(s, err)
}

// publish records ev in the replay buffer and hands a private copy to
// every subscriber.
func (c *Coordinator) publish(s *session, ev domain.Event) {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.record(s, ev)
}

func (c *Coordinator) record(s *session, ev domain.Event) {
    if s.id == "" && ev.SnapshotID != "" {
        s.id = ev.SnapshotID
        c.byID[s.id] = s
    }
    if key := domain.DomainKey(ev.Domain); key != "" && key != s.domainKey {
        c.remap(s, key)
    }
    ev = cloneEvent(ev)
    s.buffer = append(s.buffer, ev)
    if ev.Type.Terminal() && s.running() {
        s.status = statusFor(ev.Type)
    }
    for sub := range s.subs {
        sub.push(cloneEvent(ev))
    }
    if s.id != "" {
        s.resolve()
    }
}

// remap moves s to a new domain key discovered mid-run. When another
// session already holds that key the still-running one wins, then the
// earlier-started one. The loser stays mapped to the key and takes it over
// when the holder's task returns.
func (c *Coordinator) remap(s *session, key string) {
    old := s.domainKey
    s.domainKey = key
    c.release(s, old)
    if other := c.byDomain[key]; other == nil || preferred(s, other) {
        c.byDomain[key] = s
    }
    c.log.Info("session remapped", zap.String("snapshot_id", s.id), zap.String("from", old), zap.String("to", key))
}

// release drops s as holder of key and hands the key to the preferred
// unfinished session still mapped to it.
func (c *Coordinator) release(s *session, key string) {
    if c.byDomain[key] != s {
        return
    }
    delete(c.byDomain, key)
    var next *session
    for o := range c.active {
        if o == s || o.finished || o.domainKey != key {
            continue
        }
        if next == nil || preferred(o, next) {
            next = o
        }
    }
    if next != nil {
        c.byDomain[key] = next
        c.log.Info("domain handed over", zap.String("domain", key), zap.String("snapshot_id", next.id))
    }
}

func preferred(a, b *session) bool {
    if a.running() != b.running() {
        return a.running()
    }
    return a.startedAt.Before(b.startedAt)
}

func (c *Coordinator) finish(s *session, runErr error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if s.running() {
        msg := "run ended without a result"
        if runErr != nil {
            msg = runErr.Error()
        }
        c.record(s, domain.Event{Type: domain.EventRunError, SnapshotID: s.id, Domain: s.domainKey, Message: msg})
    }
    s.runErr = runErr
    s.finished = true
    s.resolve()
    c.release(s, s.domainKey)
    delete(c.active, s)
    for sub := range s.subs {
        sub.finish()
    }
    s.subs = nil
    close(s.done)
    if s.id != "" {
        s.expiry = c.clock.AfterFunc(c.retention, func() { c.expire(s) })
    }
    fields := []zap.Field{zap.String("snapshot_id", s.id), zap.String("domain", s.domainKey), zap.String("status", string(s.status))}
    if runErr != nil && s.status != domain.SnapshotCancelled {
        fields = append(fields, zap.Error(runErr))
    }
    c.log.Info("run finished", fields...)
}

func (c *Coordinator) expire(s *session) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.byID[s.id] == s {
        delete(c.byID, s.id)
    }
}

// Subscribe attaches a listener to a session. With replay, every event
// emitted so far is delivered first, in order, before live events. A
// finished session within its retention window yields its buffer and then
// io.EOF.
func (c *Coordinator) Subscribe(id string, replay bool) (ports.EventStream, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    s := c.byID[id]
    if s == nil {
        return nil, domain.NotFound("run", id)
    }
    sub := newSubscription(func(sub *Subscription) { c.unsubscribe(s, sub) })
    if replay {
        for _, ev := range s.buffer {
            sub.push(cloneEvent(ev))
        }
    }
    if s.finished {
        sub.finish()
    } else {
        s.subs[sub] = struct{}{}
    }
    return sub, nil
}

func (c *Coordinator) unsubscribe(s *session, sub *Subscription) {
    c.mu.Lock()
    defer c.mu.Unlock()
    delete(s.subs, sub)
}

// Cancel asks a running session to stop. It reports false, with no side
// effect, when id is unknown or the session is no longer running. A second
// cancel of the same session fails with a conflict.
func (c *Coordinator) Cancel(id, reason string) (bool, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    s := c.byID[id]
    if s == nil || !s.running() {
        return false, nil
    }
    if s.cancelled {
        return false, &domain.ConflictError{Domain: s.domainKey, SnapshotID: id, Message: "cancellation already requested"}
    }
    if reason == "" {
        reason = pipeline.DefaultCancelReason
    }
    s.cancelled = true
    s.cancel(&domain.RunCancelledError{Reason: reason})
    c.log.Info("run cancel requested", zap.String("snapshot_id", id), zap.String("reason", reason))
    return true, nil
}

// Lookup describes a known session.
func (c *Coordinator) Lookup(id string) (Info, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    s := c.byID[id]
    if s == nil {
        return Info{}, false
    }
    return Info{SnapshotID: s.id, Domain: s.domainKey, Status: s.status, StartedAt: s.startedAt, Events: len(s.buffer)}, true
}

// Active returns the snapshot id of the session holding domain's key.
func (c *Coordinator) Active(rawDomain string) (string, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    s := c.byDomain[domain.DomainKey(rawDomain)]
    if s == nil || s.id == "" {
        return "", false
    }
    return s.id, true
}

// Wait blocks until the session emits its terminal event and returns it.
func (c *Coordinator) Wait(ctx context.Context, id string) (domain.Event, error) {
    sub, err := c.Subscribe(id, true)
    if err != nil {
        return domain.Event{}, err
    }
    defer sub.Close()
    for {
        ev, err := sub.Next(ctx)
        if err != nil {
            return domain.Event{}, err
        }
        if ev.Type.Terminal() {
            return ev, nil
        }
    }
}

// Shutdown cancels every active session and waits for their tasks.
func (c *Coordinator) Shutdown(ctx context.Context) error {
    c.mu.Lock()
    c.closed = true
    for s := range c.active {
        if s.running() && !s.cancelled {
            s.cancelled = true
            s.cancel(&domain.RunCancelledError{Reason: ShutdownReason})
        }
    }
    c.mu.Unlock()

    done := make(chan struct{})
    go func() {
        c.wg.Wait()
        close(done)
    }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func cloneEvent(ev domain.Event) domain.Event {
    return deepcopy.Copy(ev).(domain.Event)
}

func statusFor(t domain.EventType) domain.SnapshotStatus {
    switch t {
    case domain.EventRunComplete:
        return domain.SnapshotComplete
    case domain.EventRunCancelled:
        return domain.SnapshotCancelled
    default:
        return domain.SnapshotFailed
    }
}

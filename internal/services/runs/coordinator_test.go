package runs

import (
    "context"
    "errors"
    "fmt"
    "io"
    "sync"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/goleak"
    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
    "scout/internal/services/pipeline"
)

func TestMain(m *testing.M) {
    goleak.VerifyTestMain(m)
}

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
    return f(ctx, req, sink)
}

// gatedRunner emits snapshot-created, then waits until released or
// cancelled.
type gatedRunner struct {
    mu      sync.Mutex
    n       int
    release chan struct{}
    before  chan struct{}
}

func newGatedRunner() *gatedRunner {
    return &gatedRunner{release: make(chan struct{})}
}

func (g *gatedRunner) Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
    if g.before != nil {
        <-g.before
    }
    g.mu.Lock()
    g.n++
    id := fmt.Sprintf("snap-%d", g.n)
    g.mu.Unlock()

    ev := func(t domain.EventType) domain.Event {
        return domain.Event{Type: t, SnapshotID: id, Domain: req.Domain}
    }
    sink(domain.Event{Type: domain.EventSnapshotCreated, SnapshotID: id, Domain: req.Domain, Status: "running"})
    select {
    case <-ctx.Done():
        e := ev(domain.EventRunCancelled)
        e.Reason = pipeline.CancelReason(ctx)
        sink(e)
        return context.Cause(ctx)
    case <-g.release:
    }
    done := ev(domain.EventRunComplete)
    done.Result = &domain.RunResult{SnapshotID: id, Status: "complete"}
    sink(done)
    return nil
}

func newCoordinator(r Runner) (*Coordinator, *clockwork.FakeClock) {
    clock := clockwork.NewFakeClock()
    return New(r, clock, zap.NewNop(), 30*time.Second), clock
}

func drain(t *testing.T, sub ports.EventStream) []domain.Event {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    var out []domain.Event
    for {
        ev, err := sub.Next(ctx)
        if errors.Is(err, io.EOF) {
            return out
        }
        require.NoError(t, err)
        out = append(out, ev)
    }
}

func TestStartRunReturnsSnapshotID(t *testing.T) {
    g := newGatedRunner()
    c, _ := newCoordinator(g)
    ctx := context.Background()

    id, err := c.StartRun(ctx, "https://www.acme.com", 0)
    require.NoError(t, err)
    assert.Equal(t, "snap-1", id)

    info, ok := c.Lookup(id)
    require.True(t, ok)
    assert.Equal(t, "acme.com", info.Domain)
    assert.Equal(t, domain.SnapshotRunning, info.Status)

    close(g.release)
    ev, err := c.Wait(ctx, id)
    require.NoError(t, err)
    assert.Equal(t, domain.EventRunComplete, ev.Type)
    require.NoError(t, c.Shutdown(ctx))
}

func TestStartRunRejectsInvalidDomain(t *testing.T) {
    c, _ := newCoordinator(newGatedRunner())
    _, err := c.StartRun(context.Background(), "   ", 0)
    var verr *domain.ValidationError
    assert.ErrorAs(t, err, &verr)
}

func TestSecondRunForDomainConflicts(t *testing.T) {
    g := newGatedRunner()
    g.before = make(chan struct{})
    c, _ := newCoordinator(g)
    ctx := context.Background()

    type result struct {
        id  string
        err error
    }
    results := make(chan result, 2)
    for _, d := range []string{"acme.com", "https://www.acme.com/about"} {
        go func(d string) {
            id, err := c.StartRun(ctx, d, 0)
            results <- result{id, err}
        }(d)
    }
    // both callers are waiting before any snapshot id exists
    require.Eventually(t, func() bool {
        c.mu.Lock()
        defer c.mu.Unlock()
        return len(c.byDomain) == 1
    }, time.Second, time.Millisecond)
    time.Sleep(10 * time.Millisecond)
    close(g.before)

    first, second := <-results, <-results
    if first.err != nil {
        first, second = second, first
    }
    require.NoError(t, first.err)
    var conflict *domain.ConflictError
    require.ErrorAs(t, second.err, &conflict)
    assert.Equal(t, first.id, conflict.SnapshotID)
    assert.Equal(t, "acme.com", conflict.Domain)
    assert.ErrorIs(t, second.err, domain.ErrConflict)

    close(g.release)
    require.NoError(t, c.Shutdown(ctx))

    id, err := c.StartRun(ctx, "acme.com", 0)
    assert.ErrorIs(t, err, ErrClosed)
    assert.Empty(t, id)
}

func TestDomainFreedAfterRunFinishes(t *testing.T) {
    g := newGatedRunner()
    close(g.release)
    c, _ := newCoordinator(g)
    ctx := context.Background()

    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)
    sub, err := c.Subscribe(id, true)
    require.NoError(t, err)
    drain(t, sub)

    next, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)
    assert.NotEqual(t, id, next)
    require.NoError(t, c.Shutdown(ctx))
}

func TestCancel(t *testing.T) {
    g := newGatedRunner()
    c, _ := newCoordinator(g)
    ctx := context.Background()

    ok, err := c.Cancel("unknown", "")
    assert.False(t, ok)
    assert.NoError(t, err)

    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)
    subA, err := c.Subscribe(id, true)
    require.NoError(t, err)
    subB, err := c.Subscribe(id, false)
    require.NoError(t, err)

    ok, err = c.Cancel(id, "user clicked stop")
    require.NoError(t, err)
    assert.True(t, ok)

    eventsA := drain(t, subA)
    eventsB := drain(t, subB)
    require.NotEmpty(t, eventsA)
    assert.Equal(t, domain.EventSnapshotCreated, eventsA[0].Type)
    for _, events := range [][]domain.Event{eventsA, eventsB} {
        last := events[len(events)-1]
        assert.Equal(t, domain.EventRunCancelled, last.Type)
        assert.Equal(t, "user clicked stop", last.Reason)
        n := 0
        for _, ev := range events {
            if ev.Type == domain.EventRunCancelled {
                n++
            }
        }
        assert.Equal(t, 1, n)
    }

    ok, err = c.Cancel(id, "again")
    assert.False(t, ok)
    assert.NoError(t, err)
    info, _ := c.Lookup(id)
    assert.Equal(t, domain.SnapshotCancelled, info.Status)
    require.NoError(t, c.Shutdown(ctx))
}

func TestCancelTwiceWhileStopping(t *testing.T) {
    stop := make(chan struct{})
    r := runnerFunc(func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
        sink(domain.Event{Type: domain.EventSnapshotCreated, SnapshotID: "s1", Domain: req.Domain})
        <-ctx.Done()
        <-stop
        sink(domain.Event{Type: domain.EventRunCancelled, SnapshotID: "s1", Domain: req.Domain, Reason: pipeline.CancelReason(ctx)})
        return nil
    })
    c, _ := newCoordinator(r)
    ctx := context.Background()
    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)

    ok, err := c.Cancel(id, "first")
    require.NoError(t, err)
    assert.True(t, ok)
    ok, err = c.Cancel(id, "second")
    assert.False(t, ok)
    assert.ErrorIs(t, err, domain.ErrConflict)

    close(stop)
    ev, err := c.Wait(ctx, id)
    require.NoError(t, err)
    assert.Equal(t, "first", ev.Reason)
    require.NoError(t, c.Shutdown(ctx))
}

func TestFinishedSessionReplaysUntilRetentionExpires(t *testing.T) {
    g := newGatedRunner()
    close(g.release)
    c, clock := newCoordinator(g)
    ctx := context.Background()

    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)
    first, err := c.Subscribe(id, true)
    require.NoError(t, err)
    drain(t, first)

    late, err := c.Subscribe(id, true)
    require.NoError(t, err)
    events := drain(t, late)
    require.Len(t, events, 2)
    assert.Equal(t, domain.EventRunComplete, events[1].Type)

    clock.Advance(29 * time.Second)
    _, ok := c.Lookup(id)
    assert.True(t, ok)

    clock.Advance(2 * time.Second)
    require.Eventually(t, func() bool {
        _, ok := c.Lookup(id)
        return !ok
    }, time.Second, time.Millisecond)
    _, err = c.Subscribe(id, true)
    assert.ErrorIs(t, err, domain.ErrNotFound)
    require.NoError(t, c.Shutdown(ctx))
}

func TestBroadcastEventsAreIndependentCopies(t *testing.T) {
    g := newGatedRunner()
    c, _ := newCoordinator(g)
    ctx := context.Background()

    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)
    a, err := c.Subscribe(id, true)
    require.NoError(t, err)
    close(g.release)

    eventsA := drain(t, a)
    eventsA[1].Result.Status = "tampered"

    b, err := c.Subscribe(id, true)
    require.NoError(t, err)
    eventsB := drain(t, b)
    assert.Equal(t, "complete", eventsB[1].Result.Status)
    require.NoError(t, c.Shutdown(ctx))
}

func TestRunnerErrorBeforeSnapshot(t *testing.T) {
    boom := errors.New("store unreachable")
    r := runnerFunc(func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
        sink(domain.Event{Type: domain.EventRunError, Domain: req.Domain, Message: boom.Error()})
        return boom
    })
    c, _ := newCoordinator(r)

    _, err := c.StartRun(context.Background(), "acme.com", 0)
    assert.ErrorIs(t, err, boom)
    require.NoError(t, c.Shutdown(context.Background()))
}

func TestRunnerReturningWithoutTerminalEvent(t *testing.T) {
    r := runnerFunc(func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
        sink(domain.Event{Type: domain.EventSnapshotCreated, SnapshotID: "s1", Domain: req.Domain})
        return errors.New("lost")
    })
    c, _ := newCoordinator(r)
    ctx := context.Background()
    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)

    ev, err := c.Wait(ctx, id)
    require.NoError(t, err)
    assert.Equal(t, domain.EventRunError, ev.Type)
    assert.Equal(t, "lost", ev.Message)
    require.NoError(t, c.Shutdown(ctx))
}

func TestShutdownCancelsRunningSessions(t *testing.T) {
    g := newGatedRunner()
    c, _ := newCoordinator(g)
    ctx := context.Background()

    id, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)
    sub, err := c.Subscribe(id, false)
    require.NoError(t, err)

    require.NoError(t, c.Shutdown(ctx))
    events := drain(t, sub)
    require.Len(t, events, 1)
    assert.Equal(t, ShutdownReason, events[0].Reason)
}

func TestDomainRemapPrefersRunningSession(t *testing.T) {
    hold := make(chan struct{})
    r := runnerFunc(func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
        id := "snap-" + req.Domain
        sink(domain.Event{Type: domain.EventSnapshotCreated, SnapshotID: id, Domain: req.Domain})
        if req.Domain == "acme.com" {
            sink(domain.Event{Type: domain.EventStatus, SnapshotID: id, Domain: "acme.io", Stage: domain.StageMapping})
        }
        <-hold
        sink(domain.Event{Type: domain.EventRunComplete, SnapshotID: id, Domain: req.Domain})
        return nil
    })
    c, _ := newCoordinator(r)
    ctx := context.Background()

    first, err := c.StartRun(ctx, "acme.io", 0)
    require.NoError(t, err)
    second, err := c.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)

    require.Eventually(t, func() bool {
        _, ok := c.Active("acme.com")
        return !ok
    }, time.Second, time.Millisecond)
    active, ok := c.Active("acme.io")
    require.True(t, ok)
    assert.Equal(t, first, active)
    assert.NotEqual(t, first, second)

    close(hold)
    require.NoError(t, c.Shutdown(ctx))
}

func TestDomainRemapLoserInheritsKey(t *testing.T) {
    releases := map[string]chan struct{}{
        "a.com": make(chan struct{}),
        "b.com": make(chan struct{}),
    }
    r := runnerFunc(func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
        id := "snap-" + req.Domain
        current := req.Domain
        sink(domain.Event{Type: domain.EventSnapshotCreated, SnapshotID: id, Domain: current})
        if req.Domain == "b.com" {
            current = "a.com"
            sink(domain.Event{Type: domain.EventStatus, SnapshotID: id, Domain: current, Stage: domain.StageMapping})
        }
        select {
        case <-releases[req.Domain]:
        case <-ctx.Done():
        }
        sink(domain.Event{Type: domain.EventRunComplete, SnapshotID: id, Domain: current})
        return nil
    })
    c, _ := newCoordinator(r)
    ctx := context.Background()

    first, err := c.StartRun(ctx, "a.com", 0)
    require.NoError(t, err)
    second, err := c.StartRun(ctx, "b.com", 0)
    require.NoError(t, err)

    require.Eventually(t, func() bool {
        info, ok := c.Lookup(second)
        return ok && info.Domain == "a.com"
    }, time.Second, time.Millisecond)
    active, ok := c.Active("a.com")
    require.True(t, ok)
    assert.Equal(t, first, active)
    _, ok = c.Active("b.com")
    assert.False(t, ok)

    close(releases["a.com"])
    require.Eventually(t, func() bool {
        id, ok := c.Active("a.com")
        return ok && id == second
    }, time.Second, time.Millisecond)

    _, err = c.StartRun(ctx, "a.com", 0)
    var conflict *domain.ConflictError
    require.ErrorAs(t, err, &conflict)
    assert.Equal(t, second, conflict.SnapshotID)

    close(releases["b.com"])
    require.Eventually(t, func() bool {
        _, ok := c.Active("a.com")
        return !ok
    }, time.Second, time.Millisecond)
    require.NoError(t, c.Shutdown(ctx))
}

package client

import (
    "context"
    "errors"
    "io"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    httpadapter "scout/internal/adapters/http"
    "scout/internal/adapters/memory"
    "scout/internal/domain"
    "scout/internal/services/pipeline"
    "scout/internal/services/profiles"
    "scout/internal/services/runs"
    "scout/internal/streamstate"
)

func TestDecoder(t *testing.T) {
    var sb strings.Builder
    for _, ev := range []domain.Event{
        {Type: domain.EventSnapshotCreated, SnapshotID: "s1", Domain: "acme.com", Status: "running"},
        {Type: domain.EventRunError, SnapshotID: "s1", Domain: "acme.com", Message: "line one\nline two"},
    } {
        f, err := httpadapter.EncodeFrame(ev)
        require.NoError(t, err)
        sb.Write(f)
    }
    sb.WriteString(": keep-alive comment\n\n")
    sb.WriteString("data: [DONE]\n\n")

    dec := NewDecoder(strings.NewReader(sb.String()))
    ev, err := dec.Decode()
    require.NoError(t, err)
    assert.Equal(t, domain.EventSnapshotCreated, ev.Type)
    ev, err = dec.Decode()
    require.NoError(t, err)
    assert.Equal(t, "line one\nline two", ev.Message)
    _, err = dec.Decode()
    assert.ErrorIs(t, err, io.EOF)
    _, err = dec.Decode()
    assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderTruncatedStream(t *testing.T) {
    dec := NewDecoder(strings.NewReader("data: {\"type\":\"status\"}\n\ndata: {\"ty"))
    _, err := dec.Decode()
    require.NoError(t, err)
    _, err = dec.Decode()
    assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type scenario struct{ hold chan struct{} }

func (s scenario) Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
    const id = "6f1f3b5e-0c1e-4c43-8f8a-2b3c4d5e6f70"
    emit := func(ev domain.Event) {
        ev.SnapshotID, ev.Domain = id, req.Domain
        sink(ev)
    }
    emit(domain.Event{Type: domain.EventSnapshotCreated, Status: "running"})
    emit(domain.Event{Type: domain.EventStatus, Stage: domain.StageMapping})
    if s.hold != nil {
        <-ctx.Done()
        emit(domain.Event{Type: domain.EventRunCancelled, Reason: pipeline.CancelReason(ctx)})
        return nil
    }
    emit(domain.Event{Type: domain.EventStatus, Stage: domain.StageScraping, Completed: domain.Ptr(0), Total: domain.Ptr(3)})
    emit(domain.Event{Type: domain.EventStatus, Stage: domain.StageScraping, Completed: domain.Ptr(3), Total: domain.Ptr(3)})
    emit(domain.Event{Type: domain.EventStructuredComplete, Payload: &domain.StructuredPayload{StructuredProfile: domain.StructuredProfile{CompanyName: "Acme"}}})
    emit(domain.Event{Type: domain.EventOverviewComplete, Overview: domain.Ptr("Acme builds rockets.")})
    emit(domain.Event{Type: domain.EventRunComplete, Result: &domain.RunResult{SnapshotID: id, Status: "complete", Selections: 3, SuccessfulPages: 3}})
    return nil
}

func newAPI(t *testing.T, runner runs.Runner) (*Client, *runs.Coordinator) {
    t.Helper()
    clock := clockwork.NewFakeClock()
    coord := runs.New(runner, clock, zap.NewNop(), time.Minute)
    store := memory.New(clock)
    api := httpadapter.New(coord, profiles.New(store, clock), nil, nil, zap.NewNop())
    srv := httptest.NewServer(api.Routes())
    t.Cleanup(func() {
        srv.Close()
        _ = coord.Shutdown(context.Background())
    })
    return New(srv.URL, srv.Client()), coord
}

func collect(t *testing.T, s *Stream) []domain.Event {
    t.Helper()
    defer s.Close()
    var out []domain.Event
    for {
        ev, err := s.Next()
        if errors.Is(err, io.EOF) {
            return out
        }
        require.NoError(t, err)
        out = append(out, ev)
    }
}

func TestStartRunFoldsToComplete(t *testing.T) {
    c, _ := newAPI(t, scenario{})

    s, err := c.StartRun(context.Background(), "acme.com", 3)
    require.NoError(t, err)
    events := collect(t, s)
    require.Len(t, events, 7)

    state := streamstate.Fold(events)
    assert.Equal(t, streamstate.PhaseComplete, state.Phase)
    assert.Equal(t, "Acme", state.Structured.Payload.StructuredProfile.CompanyName)
    assert.Equal(t, 3, state.Result.SuccessfulPages)
}

func TestRunWaitsForResult(t *testing.T) {
    c, _ := newAPI(t, scenario{})
    res, err := c.Run(context.Background(), "acme.com", 0)
    require.NoError(t, err)
    assert.Equal(t, "complete", res.Status)
    require.NotNil(t, res.Result)
    assert.Equal(t, 3, res.Result.Selections)
}

func TestConflictAndCancel(t *testing.T) {
    c, coord := newAPI(t, scenario{hold: make(chan struct{})})
    ctx := context.Background()

    id, err := coord.StartRun(ctx, "acme.com", 0)
    require.NoError(t, err)

    _, err = c.StartRun(ctx, "acme.com", 0)
    var apiErr *APIError
    require.ErrorAs(t, err, &apiErr)
    assert.Equal(t, 409, apiErr.StatusCode)
    assert.Equal(t, id, apiErr.SnapshotID)

    s, err := c.Attach(ctx, id)
    require.NoError(t, err)
    require.NoError(t, c.Cancel(ctx, id, "operator request"))
    events := collect(t, s)

    state := streamstate.Fold(events)
    assert.Equal(t, streamstate.PhaseCancelled, state.Phase)
    assert.Equal(t, "operator request", state.CancelReason)

    err = c.Cancel(ctx, id, "")
    require.ErrorAs(t, err, &apiErr)
    assert.Equal(t, 404, apiErr.StatusCode)
}

func TestProfile(t *testing.T) {
    c, _ := newAPI(t, scenario{})
    p, err := c.Profile(context.Background(), 5)
    require.NoError(t, err)
    assert.Equal(t, domain.ProfileNotConfigured, p.Profile.Status)
    assert.Empty(t, p.Snapshots)

    _, err = c.Snapshot(context.Background(), "6f1f3b5e-0c1e-4c43-8f8a-2b3c4d5e6f70")
    var apiErr *APIError
    require.ErrorAs(t, err, &apiErr)
    assert.Equal(t, 404, apiErr.StatusCode)
}

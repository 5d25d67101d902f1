package chat

import (
    "context"
    "errors"
    "testing"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "scout/internal/adapters/memory"
    "scout/internal/domain"
    "scout/internal/ports"
)

type stubSearch struct {
    hits  []ports.SearchHit
    query string
}

func (s *stubSearch) Search(ctx context.Context, indexID, query string, limit int) ([]ports.SearchHit, error) {
    s.query = query
    return s.hits, nil
}

type stubChat struct {
    deltas []string
    err    error
    got    ports.ChatRequest
}

func (s *stubChat) Analyze(context.Context, ports.AnalysisRequest, ports.StreamHandlers) (ports.AnalysisResult, error) {
    return ports.AnalysisResult{}, errors.New("unused")
}

func (s *stubChat) Chat(ctx context.Context, req ports.ChatRequest, onDelta func(string)) (ports.ChatResult, error) {
    s.got = req
    if s.err != nil {
        return ports.ChatResult{}, s.err
    }
    msg := ""
    for _, d := range s.deltas {
        onDelta(d)
        msg += d
    }
    return ports.ChatResult{Message: msg}, nil
}

func seed(t *testing.T, status string) (*memory.Store, string) {
    t.Helper()
    store := memory.New(clockwork.NewFakeClock())
    ctx := context.Background()
    snap, err := store.CreateSnapshot(ctx, "acme.com")
    require.NoError(t, err)
    _, err = store.UpdateSnapshot(ctx, snap.ID, domain.SnapshotUpdate{
        VectorStoreID:     domain.Some(domain.Ptr("idx-1")),
        VectorStoreStatus: domain.Some(domain.Ptr(status)),
    })
    require.NoError(t, err)
    return store, snap.ID
}

func TestTurnStreamsAnswerWithCitations(t *testing.T) {
    store, id := seed(t, domain.IndexCompleted)
    search := &stubSearch{hits: []ports.SearchHit{{URL: "https://acme.com/about", Title: "About", Snippet: "Founded 1949"}}}
    llm := &stubChat{deltas: []string{"Founded ", "in 1949."}}
    svc := New(store, search, llm, zap.NewNop())
    ctx := context.Background()

    snap, msgs, err := svc.Prepare(ctx, id, ports.ChatTurn{Question: "When was Acme founded?"})
    require.NoError(t, err)

    var events []domain.Event
    svc.Turn(ctx, snap, msgs, func(ev domain.Event) { events = append(events, ev) })

    require.Len(t, events, 3)
    assert.Equal(t, domain.EventChatDelta, events[0].Type)
    assert.Equal(t, "Founded ", events[0].Delta)
    done := events[2]
    assert.Equal(t, domain.EventChatComplete, done.Type)
    assert.Equal(t, "Founded in 1949.", done.Message)
    assert.Equal(t, id, done.SnapshotID)
    require.Len(t, done.Citations, 1)
    assert.Equal(t, "https://acme.com/about", done.Citations[0].URL)
    assert.Equal(t, "When was Acme founded?", search.query)
    assert.Len(t, llm.got.Context, 1)
}

func TestTurnReportsModelFailureAsEvent(t *testing.T) {
    store, id := seed(t, domain.IndexCompleted)
    svc := New(store, &stubSearch{}, &stubChat{err: errors.New("quota exceeded")}, zap.NewNop())
    ctx := context.Background()
    snap, msgs, err := svc.Prepare(ctx, id, ports.ChatTurn{Question: "hi"})
    require.NoError(t, err)

    var events []domain.Event
    svc.Turn(ctx, snap, msgs, func(ev domain.Event) { events = append(events, ev) })
    require.Len(t, events, 1)
    assert.Equal(t, domain.EventChatError, events[0].Type)
    assert.Equal(t, "quota exceeded", events[0].Message)
}

func TestPrepareErrors(t *testing.T) {
    store, id := seed(t, domain.IndexInProgress)
    svc := New(store, &stubSearch{}, &stubChat{}, zap.NewNop())
    ctx := context.Background()

    _, _, err := svc.Prepare(ctx, id, ports.ChatTurn{Question: "hi"})
    assert.ErrorIs(t, err, domain.ErrConflict)

    _, _, err = svc.Prepare(ctx, "missing", ports.ChatTurn{Question: "hi"})
    assert.ErrorIs(t, err, domain.ErrNotFound)

    _, _, err = svc.Prepare(ctx, id, ports.ChatTurn{})
    var verr *domain.ValidationError
    assert.ErrorAs(t, err, &verr)
}

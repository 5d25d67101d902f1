package runs

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "scout/internal/adapters/memory"
    "scout/internal/domain"
    "scout/internal/ports"
    "scout/internal/services/pipeline"
)

// stallingMapper maps a fixed site and blocks every extract until the
// caller's context ends.
type stallingMapper struct{ started chan struct{} }

func (m *stallingMapper) Map(ctx context.Context, siteURL string) ([]string, error) {
    return []string{siteURL, siteURL + "/about", siteURL + "/products"}, nil
}

func (m *stallingMapper) Extract(ctx context.Context, urls []string) ([]ports.PageContent, error) {
    select {
    case m.started <- struct{}{}:
    default:
    }
    <-ctx.Done()
    return nil, ctx.Err()
}

type unusedAnalyzer struct{}

func (unusedAnalyzer) Analyze(context.Context, ports.AnalysisRequest, ports.StreamHandlers) (ports.AnalysisResult, error) {
    return ports.AnalysisResult{}, errors.New("unexpected analysis")
}

func (unusedAnalyzer) Chat(context.Context, ports.ChatRequest, func(string)) (ports.ChatResult, error) {
    return ports.ChatResult{}, errors.New("unexpected chat")
}

func TestCancelDuringScrapeRemovesSnapshot(t *testing.T) {
    clock := clockwork.NewFakeClock()
    store := memory.New(clock)
    mapper := &stallingMapper{started: make(chan struct{}, 1)}
    p := pipeline.New(store, mapper, unusedAnalyzer{}, nil, clock, zap.NewNop(), pipeline.Config{MaxRetries: 1, RetryBase: time.Millisecond})
    c := New(p, clock, zap.NewNop(), time.Minute)
    ctx := context.Background()

    id, err := c.StartRun(ctx, "acme.com", 3)
    require.NoError(t, err)
    sub, err := c.Subscribe(id, true)
    require.NoError(t, err)

    select {
    case <-mapper.started:
    case <-time.After(5 * time.Second):
        t.Fatal("scrape never started")
    }
    prof, _, err := store.GetProfile(ctx)
    require.NoError(t, err)
    assert.Equal(t, domain.ProfileRefreshing, prof.Status)
    assert.Equal(t, id, *prof.ActiveSnapshotID)

    ok, err := c.Cancel(id, "stop")
    require.NoError(t, err)
    require.True(t, ok)

    events := drain(t, sub)
    var types []domain.EventType
    for _, ev := range events {
        types = append(types, ev.Type)
    }
    assert.Equal(t, domain.EventSnapshotCreated, types[0])
    assert.Contains(t, types, domain.EventStatus)
    last := events[len(events)-1]
    assert.Equal(t, domain.EventRunCancelled, last.Type)
    assert.Equal(t, "stop", last.Reason)

    _, err = store.GetSnapshotByID(ctx, id)
    assert.ErrorIs(t, err, domain.ErrNotFound)
    prof, _, err = store.GetProfile(ctx)
    require.NoError(t, err)
    assert.Equal(t, domain.ProfileNotConfigured, prof.Status)
    assert.Nil(t, prof.ActiveSnapshotID)

    require.NoError(t, c.Shutdown(ctx))
}

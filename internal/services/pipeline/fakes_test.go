package pipeline

import (
    "context"
    "errors"
    "net/http"
    "strings"
    "sync"

    "scout/internal/domain"
    "scout/internal/ports"
)

type fakeMapper struct {
    mu        sync.Mutex
    links     []string
    pages     map[string]ports.PageContent
    mapErrs   []error
    mapCalls  int
    onExtract func(url string)
}

func (m *fakeMapper) Map(ctx context.Context, siteURL string) ([]string, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.mapCalls++
    if len(m.mapErrs) > 0 {
        err := m.mapErrs[0]
        m.mapErrs = m.mapErrs[1:]
        return nil, err
    }
    return append([]string{}, m.links...), nil
}

func (m *fakeMapper) Extract(ctx context.Context, urls []string) ([]ports.PageContent, error) {
    var out []ports.PageContent
    for _, u := range urls {
        if m.onExtract != nil {
            m.onExtract(u)
        }
        pc, ok := m.pages[u]
        if !ok {
            return nil, &domain.UpstreamError{Service: "crawler", StatusCode: http.StatusNotFound, Err: errors.New("not found")}
        }
        out = append(out, pc)
    }
    return out, nil
}

type fakeAnalyzer struct {
    structured []string
    overview   []string
    reasoning  []string
    err        error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req ports.AnalysisRequest, h ports.StreamHandlers) (ports.AnalysisResult, error) {
    if a.err != nil {
        return ports.AnalysisResult{}, a.err
    }
    chunks := a.structured
    if req.Kind == ports.AnalysisOverview {
        chunks = a.overview
    }
    for _, r := range a.reasoning {
        h.OnReasoning(r)
    }
    for _, c := range chunks {
        h.OnText(c)
    }
    return ports.AnalysisResult{
        Text:     strings.Join(chunks, ""),
        Metadata: domain.ModelMetadata{ResponseID: "resp-" + string(req.Kind), Model: "test-model"},
    }, nil
}

func (a *fakeAnalyzer) Chat(ctx context.Context, req ports.ChatRequest, onDelta func(string)) (ports.ChatResult, error) {
    return ports.ChatResult{}, errors.New("not used")
}

type fakeIndex struct {
    err  error
    docs []ports.IndexDocument
}

func (f *fakeIndex) Publish(ctx context.Context, name string, docs []ports.IndexDocument) (ports.IndexState, error) {
    if f.err != nil {
        return ports.IndexState{}, f.err
    }
    f.docs = docs
    return ports.IndexState{
        ID:         "idx-" + name,
        Status:     domain.IndexCompleted,
        FileCounts: domain.FileCounts{Completed: len(docs), Total: len(docs)},
    }, nil
}

func (f *fakeIndex) Status(ctx context.Context, id string) (ports.IndexState, error) {
    return ports.IndexState{ID: id, Status: domain.IndexCompleted}, nil
}

type recorder struct {
    mu     sync.Mutex
    events []domain.Event
}

func (r *recorder) sink(ev domain.Event) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.EventType {
    r.mu.Lock()
    defer r.mu.Unlock()
    out := make([]domain.EventType, len(r.events))
    for i, ev := range r.events {
        out[i] = ev.Type
    }
    return out
}

func (r *recorder) last() domain.Event {
    r.mu.Lock()
    defer r.mu.Unlock()
    return r.events[len(r.events)-1]
}

func (r *recorder) find(t domain.EventType) []domain.Event {
    r.mu.Lock()
    defer r.mu.Unlock()
    var out []domain.Event
    for _, ev := range r.events {
        if ev.Type == t {
            out = append(out, ev)
        }
    }
    return out
}

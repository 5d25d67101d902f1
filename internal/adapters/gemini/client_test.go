package gemini

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
)

type chunk struct {
    Candidates    []candidate    `json:"candidates,omitempty"`
    ResponseID    string         `json:"responseId,omitempty"`
    ModelVersion  string         `json:"modelVersion,omitempty"`
    UsageMetadata map[string]int `json:"usageMetadata,omitempty"`
}

type candidate struct {
    Content content `json:"content"`
}

type content struct {
    Role  string `json:"role"`
    Parts []part `json:"parts"`
}

type part struct {
    Text    string `json:"text"`
    Thought bool   `json:"thought,omitempty"`
}

func streamServer(t *testing.T, chunks []chunk, seen *map[string]any) *httptest.Server {
    t.Helper()
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
            http.NotFound(w, r)
            return
        }
        if seen != nil {
            body, _ := io.ReadAll(r.Body)
            _ = json.Unmarshal(body, seen)
        }
        w.Header().Set("Content-Type", "text/event-stream")
        for _, c := range chunks {
            b, err := json.Marshal(c)
            require.NoError(t, err)
            fmt.Fprintf(w, "data: %s\n\n", b)
        }
    }))
    t.Cleanup(srv.Close)
    return srv
}

func newClient(t *testing.T, baseURL string) *Client {
    t.Helper()
    c, err := New(context.Background(), Config{APIKey: "test-key", Model: "gemini-test", BaseURL: baseURL}, zap.NewNop())
    require.NoError(t, err)
    return c
}

func TestAnalyzeSplitsThoughtsFromText(t *testing.T) {
    var req map[string]any
    srv := streamServer(t, []chunk{
        {ResponseID: "resp-1", ModelVersion: "gemini-test-001", Candidates: []candidate{{Content: content{Role: "model", Parts: []part{{Text: "**Reading pages**\n", Thought: true}}}}}},
        {Candidates: []candidate{{Content: content{Role: "model", Parts: []part{{Text: `{"companyName":`}}}}}},
        {Candidates: []candidate{{Content: content{Role: "model", Parts: []part{{Text: `"Acme"}`}}}}}, UsageMetadata: map[string]int{
            "promptTokenCount": 10, "candidatesTokenCount": 4, "thoughtsTokenCount": 3, "totalTokenCount": 17,
        }},
    }, &req)
    c := newClient(t, srv.URL)

    var text, thoughts []string
    res, err := c.Analyze(context.Background(), ports.AnalysisRequest{
        Kind:         ports.AnalysisStructured,
        Domain:       "acme.com",
        Instructions: "extract",
        Schema:       map[string]any{"type": "object"},
        Pages:        []domain.Page{{URL: "https://acme.com/", Title: "Acme", Content: "We make rockets."}},
    }, ports.StreamHandlers{
        OnText:      func(d string) { text = append(text, d) },
        OnReasoning: func(d string) { thoughts = append(thoughts, d) },
    })
    require.NoError(t, err)

    assert.Equal(t, []string{`{"companyName":`, `"Acme"}`}, text)
    assert.Equal(t, []string{"**Reading pages**\n"}, thoughts)
    assert.Equal(t, `{"companyName":"Acme"}`, res.Text)
    assert.Equal(t, domain.ModelMetadata{
        ResponseID: "resp-1",
        Model:      "gemini-test-001",
        Usage:      domain.TokenUsage{InputTokens: 10, OutputTokens: 4, ReasoningTokens: 3, TotalTokens: 17},
        RawText:    `{"companyName":"Acme"}`,
    }, res.Metadata)

    gen, ok := req["generationConfig"].(map[string]any)
    require.True(t, ok, "request: %v", req)
    assert.Equal(t, "application/json", gen["responseMimeType"])
    assert.Contains(t, fmt.Sprint(req["contents"]), "We make rockets.")
}

func TestChatStreamsDeltas(t *testing.T) {
    srv := streamServer(t, []chunk{
        {Candidates: []candidate{{Content: content{Role: "model", Parts: []part{{Text: "Acme builds "}}}}}},
        {Candidates: []candidate{{Content: content{Role: "model", Parts: []part{{Text: "rockets [1]."}}}}}},
    }, nil)
    c := newClient(t, srv.URL)

    var deltas []string
    res, err := c.Chat(context.Background(), ports.ChatRequest{
        Domain:   "acme.com",
        Messages: []ports.ChatMessage{{Role: "user", Content: "What does Acme do?"}},
        Context:  []ports.SearchHit{{URL: "https://acme.com/", Title: "Acme", Snippet: "rockets"}},
    }, func(d string) { deltas = append(deltas, d) })
    require.NoError(t, err)
    assert.Equal(t, []string{"Acme builds ", "rockets [1]."}, deltas)
    assert.Equal(t, "Acme builds rockets [1].", res.Message)
}

func TestRateLimitIsUpstreamError(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(http.StatusTooManyRequests)
        fmt.Fprint(w, `{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`)
    }))
    defer srv.Close()
    c := newClient(t, srv.URL)

    _, err := c.Chat(context.Background(), ports.ChatRequest{Messages: []ports.ChatMessage{{Role: "user", Content: "hi"}}}, nil)
    require.Error(t, err)
    assert.True(t, domain.IsRateLimited(err), "%v", err)
}

func TestNewRequiresKey(t *testing.T) {
    _, err := New(context.Background(), Config{}, zap.NewNop())
    assert.Error(t, err)
}

func TestRenderPagesTruncates(t *testing.T) {
    long := strings.Repeat("x", maxPageChars+50)
    out := renderPages("acme.com", []domain.Page{{URL: "u", Title: "T", Description: "D", Content: long}})
    assert.Contains(t, out, "## Page 1: T")
    assert.Contains(t, out, "Description: D")
    assert.Equal(t, maxPageChars, strings.Count(out, "x"))
}

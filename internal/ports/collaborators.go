package ports

import (
    "context"

    "scout/internal/domain"
)

// PageContent is one extracted page returned by a SiteMapper.
type PageContent struct {
    URL         string `json:"url"`
    Title       string `json:"title"`
    Description string `json:"description,omitempty"`
    Markdown    string `json:"markdown"`
    FaviconURL  string `json:"faviconUrl,omitempty"`
    Error       string `json:"error,omitempty"`
}

// SiteMapper discovers and scrapes a site. Rate-limit failures are returned
// as *domain.UpstreamError with status 429 so callers can back off.
type SiteMapper interface {
    Map(ctx context.Context, siteURL string) ([]string, error)
    Extract(ctx context.Context, urls []string) ([]PageContent, error)
}

type AnalysisKind string

const (
    AnalysisStructured AnalysisKind = "structured"
    AnalysisOverview   AnalysisKind = "overview"
)

type AnalysisRequest struct {
    Kind         AnalysisKind
    Domain       string
    Instructions string
    Schema       map[string]any
    Pages        []domain.Page
}

// StreamHandlers receive incremental output from a single model call.
type StreamHandlers struct {
    OnText      func(delta string)
    OnReasoning func(delta string)
}

type AnalysisResult struct {
    Text     string
    Metadata domain.ModelMetadata
}

type ChatMessage struct {
    Role    string `json:"role"`
    Content string `json:"content"`
}

type ChatRequest struct {
    Domain   string
    Messages []ChatMessage
    Context  []SearchHit
}

type ChatResult struct {
    Message  string
    Metadata domain.ModelMetadata
}

// Analyzer is the LLM provider.
type Analyzer interface {
    Analyze(ctx context.Context, req AnalysisRequest, h StreamHandlers) (AnalysisResult, error)
    Chat(ctx context.Context, req ChatRequest, onDelta func(string)) (ChatResult, error)
}

type IndexDocument struct {
    URL     string
    Title   string
    Content string
}

type IndexState struct {
    ID         string
    Status     string
    FileCounts domain.FileCounts
    Error      string
}

type SearchHit struct {
    URL     string  `json:"url"`
    Title   string  `json:"title"`
    Snippet string  `json:"snippet"`
    Score   float64 `json:"score"`
}

// IndexPublisher uploads page content into a search index and reports its
// readiness.
type IndexPublisher interface {
    Publish(ctx context.Context, name string, docs []IndexDocument) (IndexState, error)
    Status(ctx context.Context, indexID string) (IndexState, error)
}

// IndexSearcher queries a published index.
type IndexSearcher interface {
    Search(ctx context.Context, indexID, query string, limit int) ([]SearchHit, error)
}

// Package gemini implements ports.Analyzer on the Gemini API.
package gemini

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"

    "go.uber.org/zap"
    "google.golang.org/genai"

    "scout/internal/domain"
    "scout/internal/ports"
)

const (
    service = "gemini"

    DefaultModel = "gemini-2.5-flash"

    // maxPageChars bounds how much of each page is sent to the model.
    maxPageChars = 12000
)

type Config struct {
    APIKey string
    Model  string
    // BaseURL overrides the API endpoint.
    BaseURL string
}

// Client streams model output through the genai SDK.
type Client struct {
    genai *genai.Client
    model string
    log   *zap.Logger
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
    if cfg.APIKey == "" {
        return nil, fmt.Errorf("gemini api key is required")
    }
    if cfg.Model == "" {
        cfg.Model = DefaultModel
    }
    cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
    if cfg.BaseURL != "" {
        cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
    }
    gc, err := genai.NewClient(ctx, cc)
    if err != nil {
        return nil, fmt.Errorf("create genai client: %w", err)
    }
    return &Client{genai: gc, model: cfg.Model, log: log.Named("gemini")}, nil
}

// Analyze runs one JSON-mode generation with thought summaries enabled.
// Thought parts go to OnReasoning, answer parts to OnText.
func (c *Client) Analyze(ctx context.Context, req ports.AnalysisRequest, h ports.StreamHandlers) (ports.AnalysisResult, error) {
    cfg := &genai.GenerateContentConfig{
        SystemInstruction:  genai.NewContentFromText(req.Instructions, genai.RoleUser),
        ResponseMIMEType:   "application/json",
        ResponseJsonSchema: req.Schema,
        ThinkingConfig:     &genai.ThinkingConfig{IncludeThoughts: true},
    }
    contents := []*genai.Content{genai.NewContentFromText(renderPages(req.Domain, req.Pages), genai.RoleUser)}

    text, meta, err := c.stream(ctx, contents, cfg, h.OnText, h.OnReasoning)
    if err != nil {
        return ports.AnalysisResult{}, err
    }
    c.log.Debug("analysis complete",
        zap.String("kind", string(req.Kind)),
        zap.String("response_id", meta.ResponseID),
        zap.Int("total_tokens", meta.Usage.TotalTokens),
    )
    return ports.AnalysisResult{Text: text, Metadata: meta}, nil
}

// Chat answers the last user message using only the supplied search hits.
func (c *Client) Chat(ctx context.Context, req ports.ChatRequest, onDelta func(string)) (ports.ChatResult, error) {
    cfg := &genai.GenerateContentConfig{
        SystemInstruction: genai.NewContentFromText(chatInstructions(req.Domain, req.Context), genai.RoleUser),
    }
    contents := make([]*genai.Content, 0, len(req.Messages))
    for _, m := range req.Messages {
        role := genai.Role(genai.RoleUser)
        if m.Role == "assistant" || m.Role == "model" {
            role = genai.RoleModel
        }
        contents = append(contents, genai.NewContentFromText(m.Content, role))
    }
    text, meta, err := c.stream(ctx, contents, cfg, onDelta, nil)
    if err != nil {
        return ports.ChatResult{}, err
    }
    return ports.ChatResult{Message: text, Metadata: meta}, nil
}

func (c *Client) stream(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig, onText, onThought func(string)) (string, domain.ModelMetadata, error) {
    var (
        text strings.Builder
        meta = domain.ModelMetadata{Model: c.model}
    )
    for resp, err := range c.genai.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
        if err != nil {
            return "", domain.ModelMetadata{}, upstream(err)
        }
        if resp.ResponseID != "" {
            meta.ResponseID = resp.ResponseID
        }
        if resp.ModelVersion != "" {
            meta.Model = resp.ModelVersion
        }
        if u := resp.UsageMetadata; u != nil {
            meta.Usage = domain.TokenUsage{
                InputTokens:     int(u.PromptTokenCount),
                OutputTokens:    int(u.CandidatesTokenCount),
                ReasoningTokens: int(u.ThoughtsTokenCount),
                TotalTokens:     int(u.TotalTokenCount),
            }
        }
        if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
            continue
        }
        for _, part := range resp.Candidates[0].Content.Parts {
            if part == nil || part.Text == "" {
                continue
            }
            if part.Thought {
                if onThought != nil {
                    onThought(part.Text)
                }
                continue
            }
            text.WriteString(part.Text)
            if onText != nil {
                onText(part.Text)
            }
        }
    }
    meta.RawText = text.String()
    return meta.RawText, meta, nil
}

// upstream converts SDK failures so rate limits can be retried by callers.
func upstream(err error) error {
    var (
        apiErr  genai.APIError
        apiPErr *genai.APIError
    )
    switch {
    case errors.As(err, &apiErr):
        return &domain.UpstreamError{Service: service, StatusCode: apiErr.Code, Err: err}
    case errors.As(err, &apiPErr):
        return &domain.UpstreamError{Service: service, StatusCode: apiPErr.Code, Err: err}
    case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
        return err
    }
    return &domain.UpstreamError{Service: service, StatusCode: http.StatusBadGateway, Err: err}
}

func renderPages(domainName string, pages []domain.Page) string {
    var b strings.Builder
    fmt.Fprintf(&b, "Website: %s\n", domainName)
    for i, p := range pages {
        content := p.Content
        if len(content) > maxPageChars {
            content = content[:maxPageChars]
        }
        fmt.Fprintf(&b, "\n## Page %d: %s\nURL: %s\n", i+1, p.Title, p.URL)
        if p.Description != "" {
            fmt.Fprintf(&b, "Description: %s\n", p.Description)
        }
        b.WriteString("\n")
        b.WriteString(content)
        b.WriteString("\n")
    }
    return b.String()
}

func chatInstructions(domainName string, hits []ports.SearchHit) string {
    var b strings.Builder
    fmt.Fprintf(&b, "You answer questions about the company behind %s using only the sources below.\n", domainName)
    b.WriteString("Cite sources as [n]. If the sources do not contain the answer, say so.\n")
    for i, h := range hits {
        fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, h.Title, h.URL, h.Snippet)
    }
    return b.String()
}

package domain

import (
    "bytes"
    "encoding/json"
)

type EventType string

const (
    EventSnapshotCreated          EventType = "snapshot-created"
    EventStatus                   EventType = "status"
    EventStructuredDelta          EventType = "structured-delta"
    EventStructuredReasoningDelta EventType = "structured-reasoning-delta"
    EventStructuredComplete       EventType = "structured-complete"
    EventOverviewDelta            EventType = "overview-delta"
    EventOverviewReasoningDelta   EventType = "overview-reasoning-delta"
    EventOverviewComplete         EventType = "overview-complete"
    EventVectorStoreStatus        EventType = "vector-store-status"
    EventRunComplete              EventType = "run-complete"
    EventRunError                 EventType = "run-error"
    EventRunCancelled             EventType = "run-cancelled"

    EventChatDelta    EventType = "chat-delta"
    EventChatComplete EventType = "chat-complete"
    EventChatError    EventType = "chat-error"
)

// Terminal reports whether t ends a run. Exactly one terminal event is
// emitted per run.
func (t EventType) Terminal() bool {
    switch t {
    case EventRunComplete, EventRunError, EventRunCancelled:
        return true
    }
    return false
}

// Stage names carried by status events and Snapshot.Progress.
const (
    StageInitialising = "initialising"
    StageMapping      = "mapping"
    StageScraping     = "scraping"
    StageStructured   = "structured"
    StageOverview     = "overview"
    StagePersisting   = "persisting"
    StagePublishing   = "publishing"
)

// Event is one frame of a run's stream. Every event carries Type,
// SnapshotID and Domain; the rest is type-specific.
type Event struct {
    Type       EventType `json:"type"`
    SnapshotID string    `json:"snapshotId"`
    Domain     string    `json:"domain"`

    Status    string `json:"status,omitempty"`
    Stage     string `json:"stage,omitempty"`
    Completed *int   `json:"completed,omitempty"`
    Total     *int   `json:"total,omitempty"`

    Delta       string          `json:"delta,omitempty"`
    Accumulated string          `json:"accumulated,omitempty"`
    DisplayText string          `json:"displayText,omitempty"`
    Snapshot    json.RawMessage `json:"snapshot,omitempty"`
    Headlines   []string        `json:"headlines,omitempty"`

    Payload  *StructuredPayload `json:"payload,omitempty"`
    Overview *string            `json:"overview,omitempty"`
    Metadata *ModelMetadata     `json:"metadata,omitempty"`

    Error         string      `json:"error,omitempty"`
    VectorStoreID *string     `json:"vectorStoreId,omitempty"`
    FileCounts    *FileCounts `json:"fileCounts,omitempty"`

    Result  *RunResult `json:"result,omitempty"`
    Message string     `json:"message,omitempty"`
    Reason  string     `json:"reason,omitempty"`

    Citations []Citation `json:"citations,omitempty"`
}

// carriesHeadlines reports whether frames of type t always include the
// headlines list, empty or not.
func (t EventType) carriesHeadlines() bool {
    switch t {
    case EventStructuredReasoningDelta, EventOverviewReasoningDelta, EventOverviewComplete:
        return true
    }
    return false
}

// MarshalJSON writes headlines as [] rather than omitting them for the
// event types whose frames always carry the list.
func (e Event) MarshalJSON() ([]byte, error) {
    type wire Event
    var v any = wire(e)
    if e.Type.carriesHeadlines() {
        headlines := e.Headlines
        if headlines == nil {
            headlines = []string{}
        }
        v = struct {
            wire
            Headlines []string `json:"headlines"`
        }{wire(e), headlines}
    }
    var buf bytes.Buffer
    enc := json.NewEncoder(&buf)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(v); err != nil {
        return nil, err
    }
    return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

type StructuredProfile struct {
    CompanyName       string     `json:"companyName"`
    Tagline           string     `json:"tagline"`
    ValueProps        []string   `json:"valueProps"`
    KeyOfferings      []Offering `json:"keyOfferings"`
    PrimaryIndustries []string   `json:"primaryIndustries"`
}

type TokenUsage struct {
    InputTokens     int `json:"inputTokens"`
    OutputTokens    int `json:"outputTokens"`
    ReasoningTokens int `json:"reasoningTokens"`
    TotalTokens     int `json:"totalTokens"`
}

type ModelMetadata struct {
    ResponseID string     `json:"responseId"`
    Model      string     `json:"model"`
    Usage      TokenUsage `json:"usage"`
    RawText    string     `json:"rawText"`
}

type StructuredPayload struct {
    StructuredProfile  StructuredProfile `json:"structuredProfile"`
    Metadata           ModelMetadata     `json:"metadata"`
    FaviconURL         *string           `json:"faviconUrl"`
    ReasoningHeadlines []string          `json:"reasoningHeadlines"`
}

// RunResult is the public projection carried by run-complete and returned
// by the non-streaming trigger.
type RunResult struct {
    SnapshotID       string `json:"snapshotId"`
    Status           string `json:"status"`
    Selections       int    `json:"selections"`
    TotalLinksMapped int    `json:"totalLinksMapped"`
    SuccessfulPages  int    `json:"successfulPages"`
    FailedPages      int    `json:"failedPages"`
}

type Citation struct {
    URL     string `json:"url"`
    Title   string `json:"title"`
    Snippet string `json:"snippet"`
}

// Package streamstate folds a run's event stream into the view a client
// renders. Reduce is pure: the same ordered events always produce the same
// state, however they were batched on delivery.
package streamstate

import (
    "encoding/json"

    "scout/internal/domain"
)

type Phase string

const (
    PhaseIdle      Phase = "idle"
    PhaseRunning   Phase = "running"
    PhaseComplete  Phase = "complete"
    PhaseFailed    Phase = "failed"
    PhaseCancelled Phase = "cancelled"
)

type Progress struct {
    Stage     string
    Completed *int
    Total     *int
}

type Structured struct {
    Accumulated string
    Partial     json.RawMessage
    Headlines   []string
    Payload     *domain.StructuredPayload
}

type Overview struct {
    DisplayText string
    Partial     json.RawMessage
    Headlines   []string
    Text        *string
    Metadata    *domain.ModelMetadata
}

type VectorStore struct {
    Status     string
    ID         *string
    Error      string
    FileCounts *domain.FileCounts
}

type State struct {
    SnapshotID   string
    Domain       string
    Phase        Phase
    Progress     Progress
    Structured   Structured
    Overview     Overview
    VectorStore  VectorStore
    Result       *domain.RunResult
    Error        string
    CancelReason string
    Applied      int
}

func Initial() State { return State{Phase: PhaseIdle} }

// Terminal reports whether the run has reached a final phase.
func (s State) Terminal() bool {
    switch s.Phase {
    case PhaseComplete, PhaseFailed, PhaseCancelled:
        return true
    }
    return false
}

// Fold reduces events from the initial state.
func Fold(events []domain.Event) State {
    s := Initial()
    for _, ev := range events {
        s = Reduce(s, ev)
    }
    return s
}

// Reduce returns the state after ev. s is never modified. Once a terminal
// event has been applied only vector-store-status events still count.
func Reduce(s State, ev domain.Event) State {
    if s.Terminal() && ev.Type != domain.EventVectorStoreStatus {
        return s
    }
    if s.SnapshotID == "" && ev.SnapshotID != "" {
        s.SnapshotID = ev.SnapshotID
    }
    if ev.Domain != "" {
        s.Domain = ev.Domain
    }

    switch ev.Type {
    case domain.EventSnapshotCreated:
        s.Phase = PhaseRunning
    case domain.EventStatus:
        s.Phase = PhaseRunning
        s.Progress = Progress{Stage: ev.Stage, Completed: copyPtr(ev.Completed), Total: copyPtr(ev.Total)}
    case domain.EventStructuredDelta:
        if ev.Accumulated != "" {
            s.Structured.Accumulated = ev.Accumulated
        } else {
            s.Structured.Accumulated += ev.Delta
        }
        if ev.Snapshot != nil {
            s.Structured.Partial = copyRaw(ev.Snapshot)
        }
    case domain.EventStructuredReasoningDelta:
        if len(ev.Headlines) > 0 {
            s.Structured.Headlines = copyStrings(ev.Headlines)
        }
    case domain.EventStructuredComplete:
        if ev.Payload != nil {
            p := *ev.Payload
            p.ReasoningHeadlines = copyStrings(p.ReasoningHeadlines)
            p.StructuredProfile.ValueProps = copyStrings(p.StructuredProfile.ValueProps)
            p.StructuredProfile.PrimaryIndustries = copyStrings(p.StructuredProfile.PrimaryIndustries)
            p.StructuredProfile.KeyOfferings = append([]domain.Offering(nil), p.StructuredProfile.KeyOfferings...)
            p.FaviconURL = copyPtr(p.FaviconURL)
            s.Structured.Payload = &p
            if len(p.ReasoningHeadlines) > 0 {
                s.Structured.Headlines = copyStrings(p.ReasoningHeadlines)
            }
        }
    case domain.EventOverviewDelta:
        if ev.DisplayText != "" {
            s.Overview.DisplayText = ev.DisplayText
        }
        if ev.Snapshot != nil {
            s.Overview.Partial = copyRaw(ev.Snapshot)
        }
    case domain.EventOverviewReasoningDelta:
        if len(ev.Headlines) > 0 {
            s.Overview.Headlines = copyStrings(ev.Headlines)
        }
    case domain.EventOverviewComplete:
        s.Overview.Text = copyPtr(ev.Overview)
        if ev.Overview != nil {
            s.Overview.DisplayText = *ev.Overview
        }
        if len(ev.Headlines) > 0 {
            s.Overview.Headlines = copyStrings(ev.Headlines)
        }
        s.Overview.Metadata = copyPtr(ev.Metadata)
    case domain.EventVectorStoreStatus:
        s.VectorStore = VectorStore{
            Status:     ev.Status,
            ID:         copyPtr(ev.VectorStoreID),
            Error:      ev.Error,
            FileCounts: copyPtr(ev.FileCounts),
        }
    case domain.EventRunComplete:
        s.Phase = PhaseComplete
        s.Result = copyPtr(ev.Result)
    case domain.EventRunError:
        s.Phase = PhaseFailed
        s.Error = ev.Message
    case domain.EventRunCancelled:
        s.Phase = PhaseCancelled
        s.CancelReason = ev.Reason
    default:
        return s
    }
    s.Applied++
    return s
}

func copyPtr[T any](v *T) *T {
    if v == nil {
        return nil
    }
    c := *v
    return &c
}

func copyStrings(in []string) []string {
    if in == nil {
        return nil
    }
    return append([]string{}, in...)
}

func copyRaw(in json.RawMessage) json.RawMessage {
    return append(json.RawMessage{}, in...)
}

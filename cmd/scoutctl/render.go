package main

import (
    "fmt"
    "io"
    "strings"

    "scout/internal/domain"
    "scout/internal/streamstate"
)

// printer folds events through the stream reducer and prints what changed.
type printer struct {
    out   io.Writer
    state streamstate.State
}

func newPrinter(out io.Writer) *printer {
    return &printer{out: out, state: streamstate.Initial()}
}

func (p *printer) apply(ev domain.Event) {
    prev := p.state
    p.state = streamstate.Reduce(prev, ev)
    if p.state.Applied == prev.Applied {
        return
    }
    s := p.state

    switch ev.Type {
    case domain.EventSnapshotCreated:
        fmt.Fprintf(p.out, "snapshot %s started for %s\n", s.SnapshotID, s.Domain)
    case domain.EventStatus:
        if s.Progress.Total != nil && s.Progress.Completed != nil {
            fmt.Fprintf(p.out, "[%s] %d/%d\n", s.Progress.Stage, *s.Progress.Completed, *s.Progress.Total)
        } else {
            fmt.Fprintf(p.out, "[%s]\n", s.Progress.Stage)
        }
    case domain.EventStructuredReasoningDelta:
        p.headline(prev.Structured.Headlines, s.Structured.Headlines)
    case domain.EventOverviewReasoningDelta:
        p.headline(prev.Overview.Headlines, s.Overview.Headlines)
    case domain.EventStructuredComplete:
        if pl := s.Structured.Payload; pl != nil {
            sp := pl.StructuredProfile
            fmt.Fprintf(p.out, "company: %s\n", sp.CompanyName)
            if sp.Tagline != "" {
                fmt.Fprintf(p.out, "tagline: %s\n", sp.Tagline)
            }
            for _, o := range sp.KeyOfferings {
                fmt.Fprintf(p.out, "  - %s: %s\n", o.Title, o.Description)
            }
        }
    case domain.EventOverviewComplete:
        if s.Overview.Text != nil {
            fmt.Fprintf(p.out, "\n%s\n\n", strings.TrimSpace(*s.Overview.Text))
        }
    case domain.EventVectorStoreStatus:
        line := "index " + s.VectorStore.Status
        if fc := s.VectorStore.FileCounts; fc != nil {
            line += fmt.Sprintf(" (%d/%d documents)", fc.Completed, fc.Total)
        }
        if s.VectorStore.Error != "" {
            line += ": " + s.VectorStore.Error
        }
        fmt.Fprintln(p.out, line)
    case domain.EventRunComplete:
        if r := s.Result; r != nil {
            fmt.Fprintf(p.out, "run complete: %d pages scraped, %d failed, %d links mapped\n", r.SuccessfulPages, r.FailedPages, r.TotalLinksMapped)
        } else {
            fmt.Fprintln(p.out, "run complete")
        }
    case domain.EventRunError:
        fmt.Fprintf(p.out, "run failed: %s\n", s.Error)
    case domain.EventRunCancelled:
        fmt.Fprintf(p.out, "run cancelled: %s\n", s.CancelReason)
    }
}

// headline prints the newest reasoning headline when the list grows.
func (p *printer) headline(prev, next []string) {
    if len(next) > len(prev) {
        fmt.Fprintf(p.out, "  … %s\n", next[len(next)-1])
    }
}

func renderChat(out io.Writer, ev domain.Event) error {
    switch ev.Type {
    case domain.EventChatDelta:
        fmt.Fprint(out, ev.Delta)
    case domain.EventChatComplete:
        fmt.Fprintln(out)
        for i, c := range ev.Citations {
            fmt.Fprintf(out, "[%d] %s %s\n", i+1, c.Title, c.URL)
        }
    case domain.EventChatError:
        return fmt.Errorf("chat failed: %s", ev.Message)
    }
    return nil
}

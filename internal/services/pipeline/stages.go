package pipeline

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "time"

    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
    "scout/internal/services/selection"
)

// ErrNoContent fails a run whose scrape produced nothing to analyse.
var ErrNoContent = errors.New("no pages yielded extractable content")

func (p *Pipeline) initialise(rc *RunContext, st *runState) error {
    if err := rc.ThrowIfCancelled(domain.StageInitialising); err != nil {
        return err
    }
    prev, found, err := rc.GetProfile()
    if err != nil {
        return fmt.Errorf("load profile: %w", err)
    }
    if !found {
        prev = domain.NewProfile(p.clock.Now())
    }
    st.previous = prev

    snap, err := p.store.CreateSnapshot(rc.Context(), rc.Domain())
    if err != nil {
        return fmt.Errorf("create snapshot: %w", err)
    }
    rc.bind(snap.ID)
    st.startedAt = snap.CreatedAt

    if _, err := rc.UpsertProfile(domain.ProfileUpdate{
        Domain:                  domain.Some(rc.Domain()),
        Status:                  domain.Some(domain.ProfileRefreshing),
        ActiveSnapshotID:        domain.Some(&snap.ID),
        ActiveSnapshotStartedAt: domain.Some(&snap.CreatedAt),
    }); err != nil {
        return fmt.Errorf("mark profile refreshing: %w", err)
    }
    rc.EmitEvent(domain.Event{Type: domain.EventSnapshotCreated, Status: string(domain.SnapshotRunning)})
    return nil
}

type mapPayload struct {
    SiteURL    string             `json:"siteUrl"`
    TotalLinks int                `json:"totalLinks"`
    Links      []string           `json:"links"`
    Selected   []domain.Candidate `json:"selected"`
}

func (p *Pipeline) mapAndScrape(rc *RunContext, st *runState) error {
    if err := rc.ThrowIfCancelled(domain.StageMapping); err != nil {
        return err
    }
    rc.EmitStage(domain.StageMapping, nil, nil)

    site := domain.SiteURL(rc.Domain())
    var links []string
    err := p.withRetry(rc.Context(), "map", func(ctx context.Context) error {
        var err error
        links, err = p.mapper.Map(ctx, site)
        return err
    })
    if err != nil {
        return fmt.Errorf("map %s: %w", site, err)
    }
    st.linksFound = len(links)
    p.remapDomain(rc, links)

    candidates := selection.Select(rc.Domain(), links, st.req.PageLimit)
    st.selected = make([]string, len(candidates))
    for i, c := range candidates {
        st.selected[i] = c.URL
    }
    payload, err := json.Marshal(mapPayload{SiteURL: site, TotalLinks: len(links), Links: nonNil(links), Selected: candidates})
    if err != nil {
        return err
    }
    if _, err := rc.UpdateSnapshot(domain.SnapshotUpdate{
        SelectedURLs: domain.Some(st.selected),
        MapPayload:   domain.Some(json.RawMessage(payload)),
    }); err != nil {
        return fmt.Errorf("persist map: %w", err)
    }
    if len(candidates) == 0 {
        return fmt.Errorf("map %s: no candidate pages found", site)
    }

    total := len(st.selected)
    rc.EmitStage(domain.StageScraping, domain.Ptr(0), domain.Ptr(total))
    scrapes := make([]ports.PageContent, 0, total)
    for i, u := range st.selected {
        if err := rc.ThrowIfCancelled(domain.StageScraping); err != nil {
            return err
        }
        content, err := p.extract(rc.Context(), u)
        if err != nil {
            if rc.Context().Err() != nil {
                return err
            }
            rc.log.Warn("extract failed", zap.String("url", u), zap.Error(err))
            content = ports.PageContent{URL: u, Error: err.Error()}
        }
        scrapes = append(scrapes, content)
        if content.Error != "" || strings.TrimSpace(content.Markdown) == "" {
            st.failed++
        } else {
            st.pages = append(st.pages, domain.Page{
                URL:         u,
                Title:       content.Title,
                Description: content.Description,
                Content:     content.Markdown,
                Position:    len(st.pages),
            })
            if st.favicon == nil && content.FaviconURL != "" {
                st.favicon = domain.Ptr(content.FaviconURL)
            }
        }

        raw, err := json.Marshal(scrapes)
        if err != nil {
            return err
        }
        if _, err := rc.UpdateSnapshot(domain.SnapshotUpdate{RawScrapes: domain.Some(json.RawMessage(raw))}); err != nil {
            return fmt.Errorf("persist scrapes: %w", err)
        }
        rc.EmitStage(domain.StageScraping, domain.Ptr(i+1), domain.Ptr(total))
    }

    if len(st.pages) == 0 {
        return ErrNoContent
    }
    if err := rc.ReplaceSnapshotPages(st.pages); err != nil {
        return fmt.Errorf("persist pages: %w", err)
    }
    return nil
}

func (p *Pipeline) extract(ctx context.Context, u string) (ports.PageContent, error) {
    var out []ports.PageContent
    err := p.withRetry(ctx, "extract", func(ctx context.Context) error {
        var err error
        out, err = p.mapper.Extract(ctx, []string{u})
        return err
    })
    if err != nil {
        return ports.PageContent{}, err
    }
    if len(out) == 0 {
        return ports.PageContent{URL: u, Error: "no content returned"}, nil
    }
    return out[0], nil
}

// remapDomain follows a site that redirected to another registrable domain.
// The coordinator sees the new domain on the next event.
func (p *Pipeline) remapDomain(rc *RunContext, links []string) {
    if len(links) == 0 {
        return
    }
    for _, l := range links {
        if domain.DomainKey(l) == rc.Domain() {
            return
        }
    }
    next := domain.DomainKey(links[0])
    if next == "" || next == rc.Domain() {
        return
    }
    if _, err := rc.UpdateSnapshot(domain.SnapshotUpdate{Domain: domain.Some(next)}); err != nil {
        rc.log.Warn("persist remapped domain", zap.Error(err))
        return
    }
    rc.rebind(next)
}

type analysisSpec struct {
    kind          ports.AnalysisKind
    stage         string
    instructions  string
    schema        map[string]any
    deltaType     domain.EventType
    reasoningType domain.EventType
}

// analyze runs one streamed model call, relaying text and reasoning deltas.
// Each delta re-parses the accumulated buffer to produce a partial view.
func (p *Pipeline) analyze(rc *RunContext, st *runState, spec analysisSpec) (ports.AnalysisResult, []string, error) {
    if err := rc.ThrowIfCancelled(spec.stage); err != nil {
        return ports.AnalysisResult{}, nil, err
    }
    rc.EmitStage(spec.stage, nil, nil)

    req := ports.AnalysisRequest{
        Kind:         spec.kind,
        Domain:       rc.Domain(),
        Instructions: spec.instructions,
        Schema:       spec.schema,
        Pages:        st.pages,
    }
    var (
        result    ports.AnalysisResult
        headlines []string
    )
    err := p.withRetry(rc.Context(), string(spec.kind), func(ctx context.Context) error {
        var text, reasoning strings.Builder
        headlines = []string{}
        h := ports.StreamHandlers{
            OnText: func(delta string) {
                text.WriteString(delta)
                acc := text.String()
                ev := domain.Event{Type: spec.deltaType, Delta: delta}
                doc, ok := RepairJSON(acc)
                if ok {
                    ev.Snapshot = doc
                }
                if spec.kind == ports.AnalysisOverview {
                    if ok {
                        ev.DisplayText = partialField(doc, "overview")
                    }
                } else {
                    ev.Accumulated = acc
                }
                rc.EmitEvent(ev)
            },
            OnReasoning: func(delta string) {
                reasoning.WriteString(delta)
                headlines = Headlines(reasoning.String())
                rc.EmitEvent(domain.Event{Type: spec.reasoningType, Delta: delta, Headlines: append([]string{}, headlines...)})
            },
        }
        res, err := p.analyzer.Analyze(ctx, req, h)
        if err != nil {
            return err
        }
        result = res
        return nil
    })
    if err != nil {
        return result, nil, fmt.Errorf("%s analysis: %w", spec.kind, err)
    }
    if result.Metadata.RawText == "" {
        result.Metadata.RawText = result.Text
    }
    return result, headlines, nil
}

func (p *Pipeline) structuredAnalysis(rc *RunContext, st *runState) error {
    res, headlines, err := p.analyze(rc, st, analysisSpec{
        kind:          ports.AnalysisStructured,
        stage:         domain.StageStructured,
        instructions:  structuredInstructions,
        schema:        structuredSchema,
        deltaType:     domain.EventStructuredDelta,
        reasoningType: domain.EventStructuredReasoningDelta,
    })
    if err != nil {
        return err
    }
    var sp domain.StructuredProfile
    if err := json.Unmarshal([]byte(stripFence(res.Text)), &sp); err != nil {
        return &domain.UpstreamError{Service: "analyzer", Err: fmt.Errorf("structured output is not valid JSON: %w", err)}
    }
    sp.ValueProps = nonNil(sp.ValueProps)
    sp.PrimaryIndustries = nonNil(sp.PrimaryIndustries)
    if sp.KeyOfferings == nil {
        sp.KeyOfferings = []domain.Offering{}
    }
    st.structured = domain.StructuredPayload{
        StructuredProfile:  sp,
        Metadata:           res.Metadata,
        FaviconURL:         st.favicon,
        ReasoningHeadlines: headlines,
    }
    payload := st.structured
    rc.EmitEvent(domain.Event{Type: domain.EventStructuredComplete, Payload: &payload})
    return nil
}

func (p *Pipeline) overviewAnalysis(rc *RunContext, st *runState) error {
    res, headlines, err := p.analyze(rc, st, analysisSpec{
        kind:          ports.AnalysisOverview,
        stage:         domain.StageOverview,
        instructions:  overviewInstructions,
        schema:        overviewSchema,
        deltaType:     domain.EventOverviewDelta,
        reasoningType: domain.EventOverviewReasoningDelta,
    })
    if err != nil {
        return err
    }
    var out struct {
        Overview string `json:"overview"`
    }
    if err := json.Unmarshal([]byte(stripFence(res.Text)), &out); err != nil {
        out.Overview = strings.TrimSpace(res.Text)
    }
    if out.Overview == "" {
        return &domain.UpstreamError{Service: "analyzer", Err: errors.New("overview output is empty")}
    }
    st.overview = out.Overview
    meta := res.Metadata
    rc.EmitEvent(domain.Event{
        Type:      domain.EventOverviewComplete,
        Overview:  domain.Ptr(out.Overview),
        Headlines: headlines,
        Metadata:  &meta,
    })
    return nil
}

type summaries struct {
    Structured domain.StructuredPayload `json:"structured"`
    Overview   overviewSummary          `json:"overview"`
}

type overviewSummary struct {
    Overview string `json:"overview"`
}

func (p *Pipeline) persistResults(rc *RunContext, st *runState) error {
    if err := rc.ThrowIfCancelled(domain.StagePersisting); err != nil {
        return err
    }
    rc.EmitStage(domain.StagePersisting, nil, nil)

    raw, err := json.Marshal(summaries{Structured: st.structured, Overview: overviewSummary{Overview: st.overview}})
    if err != nil {
        return err
    }
    now := p.clock.Now()
    if _, err := rc.UpdateSnapshot(domain.SnapshotUpdate{
        Summaries:   domain.Some(json.RawMessage(raw)),
        Status:      domain.Some(domain.SnapshotComplete),
        CompletedAt: domain.Some(&now),
    }); err != nil {
        return fmt.Errorf("persist summaries: %w", err)
    }

    sp := st.structured.StructuredProfile
    id := rc.SnapshotID()
    if _, err := rc.UpsertProfile(domain.ProfileUpdate{
        Domain:                  domain.Some(rc.Domain()),
        Status:                  domain.Some(domain.ProfileReady),
        CompanyName:             domain.Some(optional(sp.CompanyName)),
        Tagline:                 domain.Some(optional(sp.Tagline)),
        Overview:                domain.Some(optional(st.overview)),
        ValueProps:              domain.Some(sp.ValueProps),
        KeyOfferings:            domain.Some(sp.KeyOfferings),
        PrimaryIndustries:       domain.Some(sp.PrimaryIndustries),
        FaviconURL:              domain.Some(st.favicon),
        LastSnapshotID:          domain.Some(&id),
        ActiveSnapshotID:        domain.Some[*string](nil),
        ActiveSnapshotStartedAt: domain.Some[*time.Time](nil),
        LastRefreshedAt:         domain.Some(&now),
        LastError:               domain.Some[*string](nil),
    }); err != nil {
        return fmt.Errorf("persist profile: %w", err)
    }

    rc.EmitEvent(domain.Event{Type: domain.EventRunComplete, Result: &domain.RunResult{
        SnapshotID:       id,
        Status:           string(domain.SnapshotComplete),
        Selections:       len(st.selected),
        TotalLinksMapped: st.linksFound,
        SuccessfulPages:  len(st.pages),
        FailedPages:      st.failed,
    }})
    return nil
}

// publishIndex uploads page content to the search index and follows it to a
// final state. Failures are recorded on the snapshot and never fail the run.
func (p *Pipeline) publishIndex(rc *RunContext, st *runState) {
    if p.index == nil || len(st.pages) == 0 {
        return
    }
    ctx := rc.Context()
    docs := make([]ports.IndexDocument, len(st.pages))
    for i, pg := range st.pages {
        docs[i] = ports.IndexDocument{URL: pg.URL, Title: pg.Title, Content: pg.Content}
    }

    state, err := p.index.Publish(ctx, "snapshot-"+rc.SnapshotID(), docs)
    if err != nil {
        p.indexFailed(rc, "", err)
        return
    }
    p.recordIndex(rc, state)

    deadline := p.clock.Now().Add(p.cfg.IndexTimeout)
    last := state
    for !indexSettled(state.Status) {
        select {
        case <-ctx.Done():
            p.indexFailed(rc, state.ID, ctx.Err())
            return
        case <-p.clock.After(p.cfg.IndexPollInterval):
        }
        if p.clock.Now().After(deadline) {
            p.indexFailed(rc, state.ID, fmt.Errorf("index %s not ready after %s", state.ID, p.cfg.IndexTimeout))
            return
        }
        state, err = p.index.Status(ctx, state.ID)
        if err != nil {
            p.indexFailed(rc, last.ID, err)
            return
        }
        if state.Status != last.Status || state.FileCounts != last.FileCounts {
            p.recordIndex(rc, state)
            last = state
        }
    }
}

func indexSettled(status string) bool {
    return status == domain.IndexCompleted || status == domain.IndexFailed
}

func (p *Pipeline) recordIndex(rc *RunContext, state ports.IndexState) {
    counts := state.FileCounts
    u := domain.SnapshotUpdate{
        VectorStoreID:         domain.Some(domain.Ptr(state.ID)),
        VectorStoreStatus:     domain.Some(domain.Ptr(state.Status)),
        VectorStoreFileCounts: domain.Some(&counts),
    }
    if state.Error != "" {
        u.VectorStoreError = domain.Some(domain.Ptr(state.Error))
    }
    if _, err := p.store.UpdateSnapshot(context.WithoutCancel(rc.Context()), rc.SnapshotID(), u); err != nil {
        rc.log.Warn("persist index status", zap.Error(err))
    }
    rc.EmitEvent(domain.Event{
        Type:          domain.EventVectorStoreStatus,
        Status:        state.Status,
        Error:         state.Error,
        VectorStoreID: domain.Ptr(state.ID),
        FileCounts:    &counts,
    })
}

func (p *Pipeline) indexFailed(rc *RunContext, indexID string, cause error) {
    msg := cause.Error()
    rc.log.Warn("index publishing failed", zap.String("index_id", indexID), zap.Error(cause))
    u := domain.SnapshotUpdate{
        VectorStoreStatus: domain.Some(domain.Ptr(domain.IndexFailed)),
        VectorStoreError:  domain.Some(&msg),
    }
    ev := domain.Event{Type: domain.EventVectorStoreStatus, Status: domain.IndexFailed, Error: msg}
    if indexID != "" {
        u.VectorStoreID = domain.Some(domain.Ptr(indexID))
        ev.VectorStoreID = domain.Ptr(indexID)
    }
    if _, err := p.store.UpdateSnapshot(context.WithoutCancel(rc.Context()), rc.SnapshotID(), u); err != nil {
        rc.log.Warn("persist index failure", zap.Error(err))
    }
    rc.EmitEvent(ev)
}

func optional(s string) *string {
    s = strings.TrimSpace(s)
    if s == "" {
        return nil
    }
    return &s
}

func nonNil(s []string) []string {
    if s == nil {
        return []string{}
    }
    return s
}

package domain

import (
    "bytes"
    "encoding/json"
    "time"
)

// Opt marks a field as present in a partial update. A zero Opt leaves the
// stored value untouched; Set(nil) on a pointer type clears it.
type Opt[T any] struct {
    Value T
    Set   bool
}

func Some[T any](v T) Opt[T] { return Opt[T]{Value: v, Set: true} }

func (o Opt[T]) apply(dst *T) {
    if o.Set {
        *dst = o.Value
    }
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

type SnapshotUpdate struct {
    Status                Opt[SnapshotStatus]
    Domain                Opt[string]
    SelectedURLs          Opt[[]string]
    MapPayload            Opt[json.RawMessage]
    Summaries             Opt[json.RawMessage]
    RawScrapes            Opt[json.RawMessage]
    VectorStoreID         Opt[*string]
    VectorStoreStatus     Opt[*string]
    VectorStoreError      Opt[*string]
    VectorStoreFileCounts Opt[*FileCounts]
    Progress              Opt[*Progress]
    Error                 Opt[*string]
    CompletedAt           Opt[*time.Time]
}

// Apply merges u into s. All backends share it so partial-update semantics
// cannot drift between implementations.
func (s *Snapshot) Apply(u SnapshotUpdate) {
    u.Status.apply(&s.Status)
    u.Domain.apply(&s.Domain)
    if u.SelectedURLs.Set {
        s.SelectedURLs = append([]string{}, u.SelectedURLs.Value...)
    }
    if u.MapPayload.Set {
        s.MapPayload = cloneRaw(u.MapPayload.Value)
    }
    if u.Summaries.Set {
        s.Summaries = cloneRaw(u.Summaries.Value)
    }
    if u.RawScrapes.Set {
        s.RawScrapes = cloneRaw(u.RawScrapes.Value)
    }
    u.VectorStoreID.apply(&s.VectorStoreID)
    u.VectorStoreStatus.apply(&s.VectorStoreStatus)
    u.VectorStoreError.apply(&s.VectorStoreError)
    if u.VectorStoreFileCounts.Set {
        s.VectorStoreFileCounts = nil
        if fc := u.VectorStoreFileCounts.Value; fc != nil {
            c := *fc
            s.VectorStoreFileCounts = &c
        }
    }
    if u.Progress.Set {
        s.Progress = nil
        if p := u.Progress.Value; p != nil {
            c := *p
            c.UpdatedAt = Normalize(c.UpdatedAt)
            s.Progress = &c
        }
    }
    u.Error.apply(&s.Error)
    if u.CompletedAt.Set {
        s.CompletedAt = normalizePtr(u.CompletedAt.Value)
    }
}

type ProfileUpdate struct {
    Domain                  Opt[string]
    Status                  Opt[ProfileStatus]
    CompanyName             Opt[*string]
    Tagline                 Opt[*string]
    Overview                Opt[*string]
    ValueProps              Opt[[]string]
    KeyOfferings            Opt[[]Offering]
    PrimaryIndustries       Opt[[]string]
    FaviconURL              Opt[*string]
    LastSnapshotID          Opt[*string]
    ActiveSnapshotID        Opt[*string]
    ActiveSnapshotStartedAt Opt[*time.Time]
    LastRefreshedAt         Opt[*time.Time]
    LastError               Opt[*string]
}

// Apply merges u into p and stamps UpdatedAt.
func (p *Profile) Apply(u ProfileUpdate, now time.Time) {
    u.Domain.apply(&p.Domain)
    u.Status.apply(&p.Status)
    u.CompanyName.apply(&p.CompanyName)
    u.Tagline.apply(&p.Tagline)
    u.Overview.apply(&p.Overview)
    if u.ValueProps.Set {
        p.ValueProps = append([]string{}, u.ValueProps.Value...)
    }
    if u.KeyOfferings.Set {
        p.KeyOfferings = append([]Offering{}, u.KeyOfferings.Value...)
    }
    if u.PrimaryIndustries.Set {
        p.PrimaryIndustries = append([]string{}, u.PrimaryIndustries.Value...)
    }
    u.FaviconURL.apply(&p.FaviconURL)
    u.LastSnapshotID.apply(&p.LastSnapshotID)
    u.ActiveSnapshotID.apply(&p.ActiveSnapshotID)
    if u.ActiveSnapshotStartedAt.Set {
        p.ActiveSnapshotStartedAt = normalizePtr(u.ActiveSnapshotStartedAt.Value)
    }
    if u.LastRefreshedAt.Set {
        p.LastRefreshedAt = normalizePtr(u.LastRefreshedAt.Value)
    }
    u.LastError.apply(&p.LastError)
    p.UpdatedAt = Normalize(now)
}

// RestoreUpdate builds the update that puts every mutable profile field back
// to the values held in p. Used to roll back a cancelled run.
func (p Profile) RestoreUpdate() ProfileUpdate {
    return ProfileUpdate{
        Domain:                  Some(p.Domain),
        Status:                  Some(p.Status),
        CompanyName:             Some(p.CompanyName),
        Tagline:                 Some(p.Tagline),
        Overview:                Some(p.Overview),
        ValueProps:              Some(p.ValueProps),
        KeyOfferings:            Some(p.KeyOfferings),
        PrimaryIndustries:       Some(p.PrimaryIndustries),
        FaviconURL:              Some(p.FaviconURL),
        LastSnapshotID:          Some(p.LastSnapshotID),
        ActiveSnapshotID:        Some(p.ActiveSnapshotID),
        ActiveSnapshotStartedAt: Some(p.ActiveSnapshotStartedAt),
        LastRefreshedAt:         Some(p.LastRefreshedAt),
        LastError:               Some(p.LastError),
    }
}

// cloneRaw copies b in compact form so payloads read back byte-identical
// from every backend.
func cloneRaw(b json.RawMessage) json.RawMessage {
    if b == nil {
        return nil
    }
    var buf bytes.Buffer
    if err := json.Compact(&buf, b); err != nil {
        return append(json.RawMessage{}, b...)
    }
    return json.RawMessage(buf.Bytes())
}

func normalizePtr(t *time.Time) *time.Time {
    if t == nil {
        return nil
    }
    n := Normalize(*t)
    return &n
}

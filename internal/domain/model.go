package domain

import (
    "encoding/json"
    "time"
)

// Core records persisted by every store backend. API responses reuse these
// shapes directly; JSON tags follow the wire naming used by the stream events.

type SnapshotStatus string

const (
    SnapshotRunning   SnapshotStatus = "running"
    SnapshotComplete  SnapshotStatus = "complete"
    SnapshotFailed    SnapshotStatus = "failed"
    SnapshotCancelled SnapshotStatus = "cancelled"
)

type ProfileStatus string

const (
    ProfileNotConfigured ProfileStatus = "not_configured"
    ProfileRefreshing    ProfileStatus = "refreshing"
    ProfileReady         ProfileStatus = "ready"
    ProfileFailed        ProfileStatus = "failed"
)

// Index lifecycle values recorded in Snapshot.VectorStoreStatus.
const (
    IndexPending    = "pending"
    IndexInProgress = "in_progress"
    IndexCompleted  = "completed"
    IndexFailed     = "failed"
)

// ProfileID is the fixed identity of the singleton profile row.
const ProfileID = "primary"

type Progress struct {
    Stage     string    `json:"stage"`
    Completed *int      `json:"completed,omitempty"`
    Total     *int      `json:"total,omitempty"`
    UpdatedAt time.Time `json:"updatedAt"`
}

type FileCounts struct {
    InProgress int `json:"inProgress"`
    Completed  int `json:"completed"`
    Failed     int `json:"failed"`
    Total      int `json:"total"`
}

type Snapshot struct {
    ID                    string          `json:"id"`
    Status                SnapshotStatus  `json:"status"`
    Domain                string          `json:"domain"`
    SelectedURLs          []string        `json:"selectedUrls"`
    MapPayload            json.RawMessage `json:"mapPayload,omitempty"`
    Summaries             json.RawMessage `json:"summaries,omitempty"`
    RawScrapes            json.RawMessage `json:"rawScrapes,omitempty"`
    VectorStoreID         *string         `json:"vectorStoreId,omitempty"`
    VectorStoreStatus     *string         `json:"vectorStoreStatus,omitempty"`
    VectorStoreError      *string         `json:"vectorStoreError,omitempty"`
    VectorStoreFileCounts *FileCounts     `json:"vectorStoreFileCounts,omitempty"`
    Progress              *Progress       `json:"progress,omitempty"`
    Error                 *string         `json:"error,omitempty"`
    CreatedAt             time.Time       `json:"createdAt"`
    CompletedAt           *time.Time      `json:"completedAt,omitempty"`
}

// Page is one scraped page belonging to a snapshot.
type Page struct {
    URL         string `json:"url"`
    Title       string `json:"title"`
    Description string `json:"description,omitempty"`
    Content     string `json:"content"`
    Position    int    `json:"position"`
}

type Profile struct {
    Domain                  string        `json:"domain"`
    Status                  ProfileStatus `json:"status"`
    CompanyName             *string       `json:"companyName,omitempty"`
    Tagline                 *string       `json:"tagline,omitempty"`
    Overview                *string       `json:"overview,omitempty"`
    ValueProps              []string      `json:"valueProps"`
    KeyOfferings            []Offering    `json:"keyOfferings"`
    PrimaryIndustries       []string      `json:"primaryIndustries"`
    FaviconURL              *string       `json:"faviconUrl,omitempty"`
    LastSnapshotID          *string       `json:"lastSnapshotId,omitempty"`
    ActiveSnapshotID        *string       `json:"activeSnapshotId,omitempty"`
    ActiveSnapshotStartedAt *time.Time    `json:"activeSnapshotStartedAt,omitempty"`
    LastRefreshedAt         *time.Time    `json:"lastRefreshedAt,omitempty"`
    LastError               *string       `json:"lastError,omitempty"`
    CreatedAt               time.Time     `json:"createdAt"`
    UpdatedAt               time.Time     `json:"updatedAt"`
}

type Offering struct {
    Title       string `json:"title"`
    Description string `json:"description"`
}

// Normalize truncates a timestamp to the precision every backend can store.
func Normalize(t time.Time) time.Time {
    return t.UTC().Truncate(time.Microsecond)
}

// NewSnapshot builds the record createSnapshot persists.
func NewSnapshot(id, domainName string, now time.Time) Snapshot {
    return Snapshot{
        ID:           id,
        Status:       SnapshotRunning,
        Domain:       domainName,
        SelectedURLs: []string{},
        CreatedAt:    Normalize(now),
    }
}

// NewProfile is the zero-state profile created on the first upsert.
func NewProfile(now time.Time) Profile {
    now = Normalize(now)
    return Profile{
        Status:            ProfileNotConfigured,
        ValueProps:        []string{},
        KeyOfferings:      []Offering{},
        PrimaryIndustries: []string{},
        CreatedAt:         now,
        UpdatedAt:         now,
    }
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
    out := s
    out.SelectedURLs = append([]string{}, s.SelectedURLs...)
    out.MapPayload = cloneRaw(s.MapPayload)
    out.Summaries = cloneRaw(s.Summaries)
    out.RawScrapes = cloneRaw(s.RawScrapes)
    out.VectorStoreID = clonePtr(s.VectorStoreID)
    out.VectorStoreStatus = clonePtr(s.VectorStoreStatus)
    out.VectorStoreError = clonePtr(s.VectorStoreError)
    out.VectorStoreFileCounts = clonePtr(s.VectorStoreFileCounts)
    out.Error = clonePtr(s.Error)
    out.CompletedAt = clonePtr(s.CompletedAt)
    if s.Progress != nil {
        p := *s.Progress
        p.Completed = clonePtr(p.Completed)
        p.Total = clonePtr(p.Total)
        out.Progress = &p
    }
    return out
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
    out := p
    out.CompanyName = clonePtr(p.CompanyName)
    out.Tagline = clonePtr(p.Tagline)
    out.Overview = clonePtr(p.Overview)
    out.ValueProps = append([]string{}, p.ValueProps...)
    out.KeyOfferings = append([]Offering{}, p.KeyOfferings...)
    out.PrimaryIndustries = append([]string{}, p.PrimaryIndustries...)
    out.FaviconURL = clonePtr(p.FaviconURL)
    out.LastSnapshotID = clonePtr(p.LastSnapshotID)
    out.ActiveSnapshotID = clonePtr(p.ActiveSnapshotID)
    out.ActiveSnapshotStartedAt = clonePtr(p.ActiveSnapshotStartedAt)
    out.LastRefreshedAt = clonePtr(p.LastRefreshedAt)
    out.LastError = clonePtr(p.LastError)
    return out
}

func clonePtr[T any](v *T) *T {
    if v == nil {
        return nil
    }
    c := *v
    return &c
}

package domain

// Read models returned by the query services and the HTTP API.

// Candidate is a mapped URL with its ranking score.
type Candidate struct {
    URL     string   `json:"url"`
    Score   float64  `json:"score"`
    Reasons []string `json:"reasons,omitempty"`
}

// Preview is the side-effect-free ranking of a site's candidate pages.
type Preview struct {
    Domain           string      `json:"domain"`
    SiteURL          string      `json:"siteUrl"`
    TotalLinksMapped int         `json:"totalLinksMapped"`
    Candidates       []Candidate `json:"candidates"`
}

// ProfileOverview is the profile together with its most recent snapshots.
type ProfileOverview struct {
    Profile   Profile    `json:"profile"`
    Snapshots []Snapshot `json:"snapshots"`
}

// SnapshotDetail is one snapshot with its scraped pages.
type SnapshotDetail struct {
    Snapshot Snapshot `json:"snapshot"`
    Pages    []Page   `json:"pages"`
}

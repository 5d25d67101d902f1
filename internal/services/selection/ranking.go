package selection

import (
    "net/url"
    "path"
    "sort"
    "strings"

    "scout/internal/domain"
)

var keywordWeights = []struct {
    word   string
    weight float64
}{
    {"about", 40}, {"company", 25}, {"product", 35}, {"solution", 35}, {"platform", 30},
    {"service", 30}, {"feature", 20}, {"pricing", 25}, {"customer", 20}, {"industr", 20},
    {"use-case", 15}, {"why", 15}, {"team", 10}, {"mission", 10},
}

var penalised = []struct {
    word   string
    weight float64
}{
    {"blog", -25}, {"news", -20}, {"press", -15}, {"event", -15}, {"webinar", -15},
    {"career", -20}, {"job", -20}, {"support", -10}, {"docs", -10}, {"tag", -30}, {"author", -30},
}

var excludedSegments = map[string]bool{
    "login": true, "signin": true, "sign-in": true, "signup": true, "sign-up": true, "register": true,
    "cart": true, "checkout": true, "account": true, "privacy": true, "privacy-policy": true,
    "terms": true, "terms-of-service": true, "legal": true, "cookies": true, "cookie-policy": true,
    "wp-admin": true, "wp-json": true, "feed": true, "search": true,
}

var excludedExt = map[string]bool{
    ".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
    ".zip": true, ".gz": true, ".xml": true, ".css": true, ".js": true, ".json": true, ".mp4": true,
    ".mp3": true, ".ico": true, ".woff": true, ".woff2": true, ".txt": true,
}

// Normalize canonicalizes a link for deduplication: https scheme kept as
// given, no fragment or query, no trailing slash except at the root.
func Normalize(raw string) (string, bool) {
    u, err := url.Parse(strings.TrimSpace(raw))
    if err != nil || u.Host == "" {
        return "", false
    }
    if u.Scheme != "http" && u.Scheme != "https" {
        return "", false
    }
    u.Host = strings.ToLower(u.Host)
    u.Fragment = ""
    u.RawQuery = ""
    p := path.Clean("/" + u.Path)
    if p == "/" || p == "." {
        p = ""
    }
    u.Path = p
    u.RawPath = ""
    return u.String(), true
}

// Rank filters links to the target domain, removes duplicates and obvious
// non-content URLs, and orders the rest by descending score.
func Rank(domainKey string, links []string) []domain.Candidate {
    seen := make(map[string]bool)
    var out []domain.Candidate
    for _, raw := range links {
        norm, ok := Normalize(raw)
        if !ok || seen[norm] {
            continue
        }
        seen[norm] = true
        u, _ := url.Parse(norm)
        if domain.DomainKey(u.Hostname()) != domainKey {
            continue
        }
        c, keep := score(norm, u)
        if keep {
            out = append(out, c)
        }
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].Score != out[j].Score {
            return out[i].Score > out[j].Score
        }
        if len(out[i].URL) != len(out[j].URL) {
            return len(out[i].URL) < len(out[j].URL)
        }
        return out[i].URL < out[j].URL
    })
    return out
}

// Select returns at most limit ranked candidates.
func Select(domainKey string, links []string, limit int) []domain.Candidate {
    ranked := Rank(domainKey, links)
    if limit > 0 && len(ranked) > limit {
        ranked = ranked[:limit]
    }
    return ranked
}

func score(norm string, u *url.URL) (domain.Candidate, bool) {
    c := domain.Candidate{URL: norm}
    p := strings.ToLower(strings.Trim(u.Path, "/"))
    if p == "" {
        c.Score = 100
        c.Reasons = []string{"homepage"}
        return c, true
    }
    if excludedExt[path.Ext(p)] {
        return c, false
    }
    segments := strings.Split(p, "/")
    for _, seg := range segments {
        if excludedSegments[seg] {
            return c, false
        }
    }
    c.Score = 10
    if len(segments[0]) == 2 && len(segments) > 1 {
        c.Score -= 30
        c.Reasons = append(c.Reasons, "localized")
    }
    for _, kw := range keywordWeights {
        if strings.Contains(p, kw.word) {
            c.Score += kw.weight
            c.Reasons = append(c.Reasons, kw.word)
        }
    }
    for _, kw := range penalised {
        if strings.Contains(segments[0], kw.word) {
            c.Score += kw.weight
            c.Reasons = append(c.Reasons, "-"+kw.word)
        }
    }
    if depth := len(segments); depth > 1 {
        c.Score -= float64(depth-1) * 5
    }
    return c, true
}

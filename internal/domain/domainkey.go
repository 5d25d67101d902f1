package domain

import (
    "net/url"
    "strings"

    "golang.org/x/net/publicsuffix"
)

// DomainKey canonicalizes user input ("https://www.Acme.com/about", "acme.com")
// to the registrable domain used for per-domain exclusivity.
func DomainKey(raw string) string {
    host := Hostname(raw)
    if host == "" {
        return ""
    }
    registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
    if err != nil {
        return host
    }
    return registrable
}

// Hostname extracts the lower-cased host from a bare domain or URL.
func Hostname(raw string) string {
    raw = strings.TrimSpace(strings.ToLower(raw))
    if raw == "" {
        return ""
    }
    if !strings.Contains(raw, "://") {
        raw = "https://" + raw
    }
    u, err := url.Parse(raw)
    if err != nil {
        return ""
    }
    return strings.TrimSuffix(u.Hostname(), ".")
}

// SiteURL returns the https root URL for a domain.
func SiteURL(raw string) string {
    host := Hostname(raw)
    if host == "" {
        return ""
    }
    return "https://" + host
}

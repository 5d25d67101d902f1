// Package crawler discovers and scrapes a company website over plain HTTP.
package crawler

import (
    "context"
    "fmt"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "time"

    "github.com/PuerkitoBio/goquery"
    "github.com/gocolly/colly"
    "github.com/temoto/robotstxt"
    "go.uber.org/zap"
    "golang.org/x/time/rate"

    "scout/internal/domain"
)

const service = "crawler"

type Config struct {
    UserAgent string
    // Rate is requests per second across the crawler. Zero disables pacing.
    Rate     float64
    Timeout  time.Duration
    MaxLinks int
}

func (c Config) withDefaults() Config {
    if c.UserAgent == "" {
        c.UserAgent = "scout/1.0 (+https://github.com/scout)"
    }
    if c.Timeout <= 0 {
        c.Timeout = 20 * time.Second
    }
    if c.MaxLinks <= 0 {
        c.MaxLinks = 500
    }
    return c
}

// Crawler implements ports.SiteMapper.
type Crawler struct {
    cfg     Config
    client  *http.Client
    limiter *rate.Limiter
    log     *zap.Logger
}

type Option func(*Crawler)

// WithClient replaces the HTTP client used for every request.
func WithClient(hc *http.Client) Option { return func(c *Crawler) { c.client = hc } }

func New(cfg Config, log *zap.Logger, opts ...Option) *Crawler {
    cfg = cfg.withDefaults()
    limit := rate.Inf
    if cfg.Rate > 0 {
        limit = rate.Limit(cfg.Rate)
    }
    c := &Crawler{
        cfg:     cfg,
        client:  &http.Client{Timeout: cfg.Timeout},
        limiter: rate.NewLimiter(limit, 1),
        log:     log.Named("crawler"),
    }
    for _, opt := range opts {
        opt(c)
    }
    return c
}

// Map returns the links reachable from the site's landing page plus its
// sitemap, filtered by robots.txt. A landing page that redirects elsewhere is
// followed and its links are reported as-is.
func (c *Crawler) Map(ctx context.Context, siteURL string) ([]string, error) {
    base, err := url.Parse(siteURL)
    if err != nil || base.Host == "" {
        return nil, &domain.ValidationError{Field: "url", Message: fmt.Sprintf("invalid site url %q", siteURL)}
    }

    var found []string
    landing, err := c.collect(ctx, base.String(), func(link string) { found = append(found, link) })
    if err != nil {
        return nil, err
    }
    found = append([]string{landing.String()}, found...)
    found = append(found, c.sitemap(ctx, landing)...)

    group := c.robots(ctx, landing)
    seen := make(map[string]bool, len(found))
    links := make([]string, 0, len(found))
    for _, raw := range found {
        u, err := url.Parse(strings.TrimSpace(raw))
        if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
            continue
        }
        u.Fragment = ""
        if u.Path == "" {
            u.Path = "/"
        }
        s := u.String()
        if seen[s] {
            continue
        }
        seen[s] = true
        if group != nil && !group.Test(u.Path) {
            continue
        }
        links = append(links, s)
        if len(links) >= c.cfg.MaxLinks {
            break
        }
    }
    c.log.Debug("mapped site", zap.String("site", siteURL), zap.String("landing", landing.String()), zap.Int("links", len(links)))
    return links, nil
}

// collect visits start with colly and reports every anchor on the page.
func (c *Crawler) collect(ctx context.Context, start string, add func(string)) (*url.URL, error) {
    col := colly.NewCollector(colly.UserAgent(c.cfg.UserAgent), colly.MaxDepth(1))
    col.SetRequestTimeout(c.cfg.Timeout)
    if c.client.Transport != nil {
        col.WithTransport(c.client.Transport)
    }

    var (
        mu      sync.Mutex
        landing *url.URL
        failure error
    )
    col.OnRequest(func(r *colly.Request) {
        if err := c.limiter.Wait(ctx); err != nil {
            mu.Lock()
            failure = err
            mu.Unlock()
            r.Abort()
        }
    })
    col.OnResponse(func(r *colly.Response) {
        mu.Lock()
        landing = r.Request.URL
        mu.Unlock()
    })
    col.OnHTML("a[href]", func(e *colly.HTMLElement) {
        if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
            add(link)
        }
    })
    col.OnError(func(r *colly.Response, err error) {
        mu.Lock()
        failure = statusError(r.StatusCode, r.Request.URL.String(), err)
        mu.Unlock()
    })

    visitErr := col.Visit(start)
    mu.Lock()
    defer mu.Unlock()
    switch {
    case failure != nil:
        return nil, failure
    case visitErr != nil:
        return nil, &domain.UpstreamError{Service: service, Err: visitErr}
    case landing == nil:
        return nil, &domain.UpstreamError{Service: service, Err: fmt.Errorf("no response from %s", start)}
    }
    return landing, nil
}

// robots loads robots.txt for the landing host. Missing or unreadable files
// allow everything.
func (c *Crawler) robots(ctx context.Context, landing *url.URL) *robotstxt.Group {
    resp, err := c.get(ctx, rootURL(landing, "/robots.txt"))
    if err != nil {
        c.log.Debug("robots.txt unavailable", zap.Error(err))
        return nil
    }
    defer resp.Body.Close()
    data, err := robotstxt.FromResponse(resp)
    if err != nil {
        c.log.Debug("robots.txt unreadable", zap.Error(err))
        return nil
    }
    return data.FindGroup(c.cfg.UserAgent)
}

// sitemap returns page locations listed in /sitemap.xml, if any.
func (c *Crawler) sitemap(ctx context.Context, landing *url.URL) []string {
    resp, err := c.get(ctx, rootURL(landing, "/sitemap.xml"))
    if err != nil {
        return nil
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil
    }
    doc, err := goquery.NewDocumentFromReader(resp.Body)
    if err != nil {
        return nil
    }
    var locs []string
    doc.Find("url > loc").Each(func(_ int, s *goquery.Selection) {
        if loc := strings.TrimSpace(s.Text()); loc != "" {
            locs = append(locs, loc)
        }
    })
    return locs
}

func (c *Crawler) get(ctx context.Context, u string) (*http.Response, error) {
    if err := c.limiter.Wait(ctx); err != nil {
        return nil, err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil {
        return nil, err
    }
    req.Header.Set("User-Agent", c.cfg.UserAgent)
    resp, err := c.client.Do(req)
    if err != nil {
        return nil, &domain.UpstreamError{Service: service, Err: err}
    }
    return resp, nil
}

func statusError(code int, u string, err error) error {
    if err == nil {
        err = fmt.Errorf("GET %s", u)
    }
    return &domain.UpstreamError{Service: service, StatusCode: code, Err: err}
}

func rootURL(u *url.URL, path string) string {
    return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}).String()
}

package crawler

import (
    "context"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "scout/internal/domain"
)

const landingHTML = `<!doctype html>
<html><head>
<title>Acme Rockets</title>
<meta name="description" content="Rockets for   everyone">
<link rel="shortcut icon" href="/static/icon.png">
</head><body>
<nav><a href="/about">About</a> <a href="/private/admin">Admin</a> <a href="#top">Top</a></nav>
<h1>Acme Rockets</h1>
<p>We build   reusable rockets.</p>
<ul><li><p>Fast</p></li><li>Cheap</li></ul>
<a href="https://twitter.com/acme">Twitter</a>
<a href="mailto:hi@acme.com">Mail</a>
<script>var tracking = true;</script>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
    t.Helper()
    mux := http.NewServeMux()
    mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/" {
            http.NotFound(w, r)
            return
        }
        w.Header().Set("Content-Type", "text/html; charset=utf-8")
        fmt.Fprint(w, landingHTML)
    })
    mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "text/html; charset=windows-1252")
        _, _ = w.Write([]byte("<html><head><title>About</title></head><body><p>Caf\xe9 culture</p></body></html>"))
    })
    mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTooManyRequests)
    })
    mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
        fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
    })
    srv := httptest.NewServer(mux)
    mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/xml")
        fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/products</loc></url>
<url><loc>%[1]s/about</loc></url>
<url><loc>%[1]s/private/keys</loc></url>
</urlset>`, srv.URL)
    })
    t.Cleanup(srv.Close)
    return srv
}

func TestMapCollectsLinksAndSitemap(t *testing.T) {
    srv := newSite(t)
    c := New(Config{}, zap.NewNop())

    links, err := c.Map(context.Background(), srv.URL)
    require.NoError(t, err)
    assert.Equal(t, []string{
        srv.URL + "/",
        srv.URL + "/about",
        "https://twitter.com/acme",
        srv.URL + "/products",
    }, links)
}

func TestMapRateLimited(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTooManyRequests)
    }))
    defer srv.Close()

    _, err := New(Config{}, zap.NewNop()).Map(context.Background(), srv.URL)
    require.Error(t, err)
    assert.True(t, domain.IsRateLimited(err))
}

func TestMapRejectsBadURL(t *testing.T) {
    _, err := New(Config{}, zap.NewNop()).Map(context.Background(), "not a url")
    var verr *domain.ValidationError
    assert.ErrorAs(t, err, &verr)
}

func TestExtractPage(t *testing.T) {
    srv := newSite(t)
    c := New(Config{}, zap.NewNop())

    pages, err := c.Extract(context.Background(), []string{srv.URL + "/", srv.URL + "/about", srv.URL + "/missing"})
    require.NoError(t, err)
    require.Len(t, pages, 3)

    home := pages[0]
    assert.Equal(t, "Acme Rockets", home.Title)
    assert.Equal(t, "Rockets for everyone", home.Description)
    assert.Equal(t, srv.URL+"/static/icon.png", home.FaviconURL)
    assert.Equal(t, "# Acme Rockets\n\nWe build reusable rockets.\n\nFast\n\n- Cheap", home.Markdown)
    assert.NotContains(t, home.Markdown, "tracking")

    about := pages[1]
    assert.Equal(t, "Café culture", about.Markdown)
    assert.Equal(t, srv.URL+"/favicon.ico", about.FaviconURL)

    assert.Equal(t, "HTTP 404", pages[2].Error)
    assert.Empty(t, pages[2].Markdown)
}

func TestExtractRateLimited(t *testing.T) {
    srv := newSite(t)
    _, err := New(Config{}, zap.NewNop()).Extract(context.Background(), []string{srv.URL + "/busy"})
    require.Error(t, err)
    assert.True(t, domain.IsRateLimited(err))
}

func TestExtractHonoursContext(t *testing.T) {
    srv := newSite(t)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    _, err := New(Config{Rate: 1}, zap.NewNop()).Extract(ctx, []string{srv.URL + "/"})
    assert.ErrorIs(t, err, context.Canceled)
}

package crawler

import (
    "bytes"
    "context"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "regexp"
    "strings"

    "github.com/PuerkitoBio/goquery"
    readability "github.com/go-shiori/go-readability"
    "go.uber.org/zap"
    "golang.org/x/net/html/charset"

    "scout/internal/ports"
)

const maxBody = 4 << 20

var reWhitespace = regexp.MustCompile(`\s+`)

// blocks are the elements rendered as their own line of page text.
const blocks = "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, td, th, dt, dd"

// Extract fetches each URL in order. Non-200 pages come back with Error set;
// a 429 aborts the call with a rate-limited UpstreamError.
func (c *Crawler) Extract(ctx context.Context, urls []string) ([]ports.PageContent, error) {
    out := make([]ports.PageContent, 0, len(urls))
    for _, u := range urls {
        page, err := c.extractOne(ctx, u)
        if err != nil {
            return nil, err
        }
        out = append(out, page)
    }
    return out, nil
}

func (c *Crawler) extractOne(ctx context.Context, raw string) (ports.PageContent, error) {
    if _, err := url.Parse(raw); err != nil {
        return ports.PageContent{URL: raw, Error: err.Error()}, nil
    }
    resp, err := c.get(ctx, raw)
    if err != nil {
        return ports.PageContent{}, err
    }
    defer resp.Body.Close()

    switch {
    case resp.StatusCode == http.StatusTooManyRequests:
        return ports.PageContent{}, statusError(resp.StatusCode, raw, nil)
    case resp.StatusCode != http.StatusOK:
        return ports.PageContent{URL: raw, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}, nil
    }

    body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
    if err != nil {
        body = resp.Body
    }
    html, err := io.ReadAll(io.LimitReader(body, maxBody))
    if err != nil {
        return ports.PageContent{URL: raw, Error: err.Error()}, nil
    }
    page := parsePage(raw, resp.Request.URL, html)
    if page.Error != "" {
        c.log.Debug("page unparseable", zap.String("url", raw), zap.String("error", page.Error))
    }
    return page, nil
}

// parsePage turns an HTML document into page text with markdown-style
// headings and list items. Title and description fall back to readability.
func parsePage(raw string, pageURL *url.URL, html []byte) ports.PageContent {
    doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
    if err != nil {
        return ports.PageContent{URL: raw, Error: err.Error()}
    }
    title := normalizeText(doc.Find("title").First().Text())
    desc, _ := doc.Find(`meta[name="description"]`).Attr("content")
    if desc == "" {
        desc, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
    }
    favicon := faviconURL(doc, pageURL)

    if article, err := readability.FromReader(bytes.NewReader(html), pageURL); err == nil {
        if title == "" {
            title = normalizeText(article.Title)
        }
        if desc == "" {
            desc = article.Excerpt
        }
    }

    doc.Find("script, style, noscript, template, svg, iframe").Remove()
    return ports.PageContent{
        URL:         raw,
        Title:       title,
        Description: normalizeText(desc),
        Markdown:    pageText(doc),
        FaviconURL:  favicon,
    }
}

func pageText(doc *goquery.Document) string {
    var lines []string
    doc.Find("body").Find(blocks).Each(func(_ int, s *goquery.Selection) {
        if s.Find(blocks).Length() > 0 {
            return
        }
        text := normalizeText(s.Text())
        if text == "" {
            return
        }
        switch tag := goquery.NodeName(s); tag {
        case "h1", "h2", "h3", "h4", "h5", "h6":
            text = strings.Repeat("#", int(tag[1]-'0')) + " " + text
        case "li":
            text = "- " + text
        case "blockquote":
            text = "> " + text
        }
        if n := len(lines); n > 0 && lines[n-1] == text {
            return
        }
        lines = append(lines, text)
    })
    if len(lines) == 0 {
        return normalizeText(doc.Find("body").Text())
    }
    return strings.Join(lines, "\n\n")
}

func faviconURL(doc *goquery.Document, pageURL *url.URL) string {
    if pageURL == nil {
        return ""
    }
    if href, ok := doc.Find(`link[rel~="icon"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
        if u, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
            return u.String()
        }
    }
    return rootURL(pageURL, "/favicon.ico")
}

func normalizeText(text string) string {
    return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

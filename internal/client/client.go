// Package client talks to the scout HTTP API.
package client

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "strings"

    "scout/internal/domain"
    "scout/internal/ports"
)

// APIError is a non-2xx response.
type APIError struct {
    StatusCode int
    Message    string `json:"error"`
    SnapshotID string `json:"snapshotId"`
}

func (e *APIError) Error() string {
    if e.SnapshotID != "" {
        return fmt.Sprintf("%d: %s (snapshot %s)", e.StatusCode, e.Message, e.SnapshotID)
    }
    return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

type Client struct {
    base string
    hc   *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
    if hc == nil {
        hc = http.DefaultClient
    }
    return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

// Stream is an open event stream. Close it when done.
type Stream struct {
    body io.ReadCloser
    dec  *Decoder
}

// Next returns io.EOF once the server has sent [DONE].
func (s *Stream) Next() (domain.Event, error) { return s.dec.Decode() }

func (s *Stream) Close() error { return s.body.Close() }

type RunResult struct {
    SnapshotID string            `json:"snapshotId"`
    Status     string            `json:"status"`
    Result     *domain.RunResult `json:"result,omitempty"`
    Reason     string            `json:"reason,omitempty"`
}

// StartRun triggers a run and streams its events.
func (c *Client) StartRun(ctx context.Context, domainName string, pageLimit int) (*Stream, error) {
    return c.stream(ctx, http.MethodPost, "/runs", map[string]any{"domain": domainName, "pageLimit": pageLimit})
}

// Run triggers a run and waits for its outcome.
func (c *Client) Run(ctx context.Context, domainName string, pageLimit int) (RunResult, error) {
    var out RunResult
    err := c.do(ctx, http.MethodPost, "/runs", map[string]any{"domain": domainName, "pageLimit": pageLimit}, &out)
    return out, err
}

// Attach replays and follows an existing run.
func (c *Client) Attach(ctx context.Context, snapshotID string) (*Stream, error) {
    return c.stream(ctx, http.MethodGet, "/runs/"+url.PathEscape(snapshotID)+"/stream", nil)
}

func (c *Client) Cancel(ctx context.Context, snapshotID, reason string) error {
    var body any
    if reason != "" {
        body = map[string]string{"reason": reason}
    }
    return c.do(ctx, http.MethodDelete, "/runs/"+url.PathEscape(snapshotID), body, nil)
}

func (c *Client) Profile(ctx context.Context, limit int) (domain.ProfileOverview, error) {
    path := "/profile"
    if limit > 0 {
        path += "?limit=" + strconv.Itoa(limit)
    }
    var out domain.ProfileOverview
    err := c.do(ctx, http.MethodGet, path, nil, &out)
    return out, err
}

func (c *Client) Snapshot(ctx context.Context, snapshotID string) (domain.SnapshotDetail, error) {
    var out domain.SnapshotDetail
    err := c.do(ctx, http.MethodGet, "/snapshots/"+url.PathEscape(snapshotID), nil, &out)
    return out, err
}

func (c *Client) Preview(ctx context.Context, domainName string, limit int) (domain.Preview, error) {
    var out domain.Preview
    err := c.do(ctx, http.MethodPost, "/preview", map[string]any{"domain": domainName, "limit": limit}, &out)
    return out, err
}

// Chat streams one chat turn against a snapshot.
func (c *Client) Chat(ctx context.Context, snapshotID string, turn ports.ChatTurn) (*Stream, error) {
    return c.stream(ctx, http.MethodPost, "/snapshots/"+url.PathEscape(snapshotID)+"/chat", turn)
}

func (c *Client) stream(ctx context.Context, method, path string, body any) (*Stream, error) {
    resp, err := c.send(ctx, method, path, body, "text/event-stream")
    if err != nil {
        return nil, err
    }
    return &Stream{body: resp.Body, dec: NewDecoder(resp.Body)}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
    resp, err := c.send(ctx, method, path, body, "application/json")
    if err != nil {
        return err
    }
    defer resp.Body.Close()
    if out == nil {
        return nil
    }
    if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
        return fmt.Errorf("decode %s %s: %w", method, path, err)
    }
    return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
    var rd io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil {
            return nil, err
        }
        rd = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
    if err != nil {
        return nil, err
    }
    req.Header.Set("Accept", accept)
    if body != nil {
        req.Header.Set("Content-Type", "application/json")
    }
    resp, err := c.hc.Do(req)
    if err != nil {
        return nil, err
    }
    if resp.StatusCode >= 300 {
        defer resp.Body.Close()
        apiErr := &APIError{StatusCode: resp.StatusCode}
        if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
            apiErr.Message = http.StatusText(resp.StatusCode)
        }
        return nil, apiErr
    }
    return resp, nil
}

// Package searchindex publishes snapshot pages into a SQLite FTS5 index and
// serves ranked retrieval for chat.
package searchindex

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"
    "unicode"

    "github.com/google/uuid"
    "github.com/jonboulle/clockwork"
    "go.uber.org/zap"
    _ "modernc.org/sqlite"

    "scout/internal/domain"
    "scout/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS indexes (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL,
    total      INTEGER NOT NULL DEFAULT 0,
    completed  INTEGER NOT NULL DEFAULT 0,
    failed     INTEGER NOT NULL DEFAULT 0,
    error      TEXT,
    created_at TEXT NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
    index_id UNINDEXED,
    url UNINDEXED,
    title,
    content,
    tokenize = 'porter unicode61'
);`

// Index implements ports.IndexPublisher and ports.IndexSearcher.
type Index struct {
    db    *sql.DB
    clock clockwork.Clock
    log   *zap.Logger
}

// Open opens (or creates) the index database at path. ":memory:" keeps it in
// process.
func Open(ctx context.Context, path string, clock clockwork.Clock, log *zap.Logger) (*Index, error) {
    db, err := sql.Open("sqlite", path)
    if err != nil {
        return nil, fmt.Errorf("open index db: %w", err)
    }
    // one writer; also keeps a :memory: database alive across calls
    db.SetMaxOpenConns(1)
    if _, err := db.ExecContext(ctx, schema); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("init index schema: %w", err)
    }
    return &Index{db: db, clock: clock, log: log.Named("searchindex")}, nil
}

func (x *Index) Close() error { return x.db.Close() }

// Publish stores docs under a new index id. Documents without content are
// counted as failed. Indexing is synchronous, so the returned state is final.
func (x *Index) Publish(ctx context.Context, name string, docs []ports.IndexDocument) (ports.IndexState, error) {
    id := "idx_" + uuid.NewString()
    state := ports.IndexState{ID: id, Status: domain.IndexCompleted, FileCounts: domain.FileCounts{Total: len(docs)}}

    tx, err := x.db.BeginTx(ctx, nil)
    if err != nil {
        return ports.IndexState{}, err
    }
    defer func() { _ = tx.Rollback() }()

    if _, err := tx.ExecContext(ctx,
        `INSERT INTO indexes (id, name, status, total, created_at) VALUES (?, ?, ?, ?, ?)`,
        id, name, domain.IndexInProgress, len(docs), x.clock.Now().UTC().Format(time.RFC3339Nano),
    ); err != nil {
        return ports.IndexState{}, fmt.Errorf("create index: %w", err)
    }
    for _, d := range docs {
        if strings.TrimSpace(d.Content) == "" {
            state.FileCounts.Failed++
            continue
        }
        if _, err := tx.ExecContext(ctx,
            `INSERT INTO documents (index_id, url, title, content) VALUES (?, ?, ?, ?)`,
            id, d.URL, d.Title, d.Content,
        ); err != nil {
            return ports.IndexState{}, fmt.Errorf("index %s: %w", d.URL, err)
        }
        state.FileCounts.Completed++
    }
    if state.FileCounts.Completed == 0 {
        state.Status = domain.IndexFailed
        state.Error = "no documents with content"
    }
    if _, err := tx.ExecContext(ctx,
        `UPDATE indexes SET status = ?, completed = ?, failed = ?, error = ? WHERE id = ?`,
        state.Status, state.FileCounts.Completed, state.FileCounts.Failed, nullable(state.Error), id,
    ); err != nil {
        return ports.IndexState{}, err
    }
    if err := tx.Commit(); err != nil {
        return ports.IndexState{}, err
    }
    x.log.Debug("published index", zap.String("index_id", id), zap.String("name", name), zap.Int("documents", state.FileCounts.Completed))
    return state, nil
}

func (x *Index) Status(ctx context.Context, indexID string) (ports.IndexState, error) {
    var (
        st  ports.IndexState
        msg sql.NullString
    )
    err := x.db.QueryRowContext(ctx,
        `SELECT id, status, total, completed, failed, error FROM indexes WHERE id = ?`, indexID,
    ).Scan(&st.ID, &st.Status, &st.FileCounts.Total, &st.FileCounts.Completed, &st.FileCounts.Failed, &msg)
    if errors.Is(err, sql.ErrNoRows) {
        return ports.IndexState{}, domain.NotFound("index", indexID)
    }
    if err != nil {
        return ports.IndexState{}, err
    }
    st.Error = msg.String
    return st, nil
}

// Search returns the best matching documents by bm25. Any query term may
// match.
func (x *Index) Search(ctx context.Context, indexID, query string, limit int) ([]ports.SearchHit, error) {
    if limit <= 0 {
        limit = 5
    }
    match := matchExpr(query)
    if match == "" {
        return []ports.SearchHit{}, nil
    }
    rows, err := x.db.QueryContext(ctx, `
        SELECT url, title, snippet(documents, 3, '', '', '...', 32), bm25(documents)
        FROM documents
        WHERE documents MATCH ? AND index_id = ?
        ORDER BY bm25(documents)
        LIMIT ?`, match, indexID, limit)
    if err != nil {
        return nil, fmt.Errorf("search %s: %w", indexID, err)
    }
    defer rows.Close()

    hits := []ports.SearchHit{}
    for rows.Next() {
        var h ports.SearchHit
        var rank float64
        if err := rows.Scan(&h.URL, &h.Title, &h.Snippet, &rank); err != nil {
            return nil, err
        }
        h.Score = -rank
        hits = append(hits, h)
    }
    return hits, rows.Err()
}

// matchExpr turns free text into an FTS5 OR query of quoted terms.
func matchExpr(query string) string {
    words := strings.FieldsFunc(query, func(r rune) bool {
        return !unicode.IsLetter(r) && !unicode.IsDigit(r)
    })
    terms := make([]string, 0, len(words))
    seen := make(map[string]bool, len(words))
    for _, w := range words {
        w = strings.ToLower(w)
        if len(w) < 2 || seen[w] {
            continue
        }
        seen[w] = true
        terms = append(terms, `"`+w+`"`)
    }
    return strings.Join(terms, " OR ")
}

func nullable(s string) any {
    if s == "" {
        return nil
    }
    return s
}

package postgres

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/jackc/pgx/v5"

    "scout/internal/domain"
)

const snapshotColumns = `id, status, domain, selected_urls, map_payload, summaries, raw_scrapes,
    vector_store_id, vector_store_status, vector_store_error, vector_store_file_counts,
    progress, error_message, created_at, completed_at`

// SnapshotRepository

func (db *DB) CreateSnapshot(ctx context.Context, domainName string) (domain.Snapshot, error) {
    snap := domain.NewSnapshot(db.newID(), domainName, db.clock.Now())
    _, err := db.Pool.Exec(ctx, `
        INSERT INTO snapshots (`+snapshotColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `, snapshotArgs(snap)...)
    if err != nil {
        return domain.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
    }
    return snap, nil
}

func (db *DB) UpdateSnapshot(ctx context.Context, id string, u domain.SnapshotUpdate) (out domain.Snapshot, err error) {
    tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil { return out, err }
    defer func() {
        if err != nil { _ = tx.Rollback(ctx) } else { err = tx.Commit(ctx) }
    }()

    snap, err := scanSnapshot(tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1 FOR UPDATE`, id))
    if errors.Is(err, pgx.ErrNoRows) {
        return out, domain.NotFound("snapshot", id)
    }
    if err != nil { return out, err }

    snap.Apply(u)
    if _, err = tx.Exec(ctx, `
        UPDATE snapshots SET
            status = $2, domain = $3, selected_urls = $4, map_payload = $5, summaries = $6,
            raw_scrapes = $7, vector_store_id = $8, vector_store_status = $9, vector_store_error = $10,
            vector_store_file_counts = $11, progress = $12, error_message = $13, created_at = $14, completed_at = $15
        WHERE id = $1
    `, snapshotArgs(snap)...); err != nil {
        return out, err
    }
    return snap, nil
}

func (db *DB) ReplaceSnapshotPages(ctx context.Context, id string, pages []domain.Page) (err error) {
    tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil { return err }
    defer func() {
        if err != nil { _ = tx.Rollback(ctx) } else { err = tx.Commit(ctx) }
    }()

    var locked string
    err = tx.QueryRow(ctx, `SELECT id FROM snapshots WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
    if errors.Is(err, pgx.ErrNoRows) {
        return domain.NotFound("snapshot", id)
    }
    if err != nil { return err }
    if _, err = tx.Exec(ctx, `DELETE FROM snapshot_pages WHERE snapshot_id = $1`, id); err != nil {
        return err
    }
    if len(pages) == 0 {
        return nil
    }

    batch := &pgx.Batch{}
    for _, p := range pages {
        batch.Queue(`
            INSERT INTO snapshot_pages (snapshot_id, position, url, title, description, content)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, id, p.Position, p.URL, p.Title, p.Description, p.Content)
    }
    br := tx.SendBatch(ctx, batch)
    for i := 0; i < batch.Len(); i++ {
        if _, err = br.Exec(); err != nil {
            br.Close()
            return fmt.Errorf("insert page %d: %w", i, err)
        }
    }
    return br.Close()
}

func (db *DB) ListSnapshotPages(ctx context.Context, id string) ([]domain.Page, error) {
    if _, err := db.GetSnapshotByID(ctx, id); err != nil {
        return nil, err
    }
    rows, err := db.Pool.Query(ctx, `
        SELECT url, title, description, content, position
        FROM snapshot_pages WHERE snapshot_id = $1 ORDER BY position
    `, id)
    if err != nil { return nil, err }
    defer rows.Close()

    pages := []domain.Page{}
    for rows.Next() {
        var p domain.Page
        if err := rows.Scan(&p.URL, &p.Title, &p.Description, &p.Content, &p.Position); err != nil {
            return nil, err
        }
        pages = append(pages, p)
    }
    return pages, rows.Err()
}

func (db *DB) ListSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
    query := `SELECT ` + snapshotColumns + ` FROM snapshots ORDER BY created_at DESC, id DESC`
    args := []any{}
    if limit > 0 {
        query += ` LIMIT $1`
        args = append(args, limit)
    }
    rows, err := db.Pool.Query(ctx, query, args...)
    if err != nil { return nil, err }
    defer rows.Close()

    out := []domain.Snapshot{}
    for rows.Next() {
        snap, err := scanSnapshot(rows)
        if err != nil { return nil, err }
        out = append(out, snap)
    }
    return out, rows.Err()
}

func (db *DB) GetSnapshotByID(ctx context.Context, id string) (domain.Snapshot, error) {
    snap, err := scanSnapshot(db.Pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
    if errors.Is(err, pgx.ErrNoRows) {
        return domain.Snapshot{}, domain.NotFound("snapshot", id)
    }
    return snap, err
}

func (db *DB) DeleteSnapshot(ctx context.Context, id string) error {
    tag, err := db.Pool.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, id)
    if err != nil { return err }
    if tag.RowsAffected() == 0 {
        return domain.NotFound("snapshot", id)
    }
    return nil
}

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
    var (
        s                                 domain.Snapshot
        status                            string
        mapPayload, summaries, rawScrapes []byte
        completedAt                       *time.Time
    )
    err := row.Scan(&s.ID, &status, &s.Domain, &s.SelectedURLs, &mapPayload, &summaries, &rawScrapes,
        &s.VectorStoreID, &s.VectorStoreStatus, &s.VectorStoreError, &s.VectorStoreFileCounts,
        &s.Progress, &s.Error, &s.CreatedAt, &completedAt)
    if err != nil {
        return domain.Snapshot{}, err
    }
    s.Status = domain.SnapshotStatus(status)
    if s.SelectedURLs == nil {
        s.SelectedURLs = []string{}
    }
    s.MapPayload = rawOrNil(mapPayload)
    s.Summaries = rawOrNil(summaries)
    s.RawScrapes = rawOrNil(rawScrapes)
    s.CreatedAt = domain.Normalize(s.CreatedAt)
    s.CompletedAt = normalizePtr(completedAt)
    if s.Progress != nil {
        s.Progress.UpdatedAt = domain.Normalize(s.Progress.UpdatedAt)
    }
    return s, nil
}

func snapshotArgs(s domain.Snapshot) []any {
    return []any{
        s.ID, string(s.Status), s.Domain, s.SelectedURLs,
        rawParam(s.MapPayload), rawParam(s.Summaries), rawParam(s.RawScrapes),
        s.VectorStoreID, s.VectorStoreStatus, s.VectorStoreError, s.VectorStoreFileCounts,
        s.Progress, s.Error, s.CreatedAt, s.CompletedAt,
    }
}

// rawParam sends opaque payloads as text so the json column keeps them
// byte-for-byte; nil maps to SQL NULL.
func rawParam(b json.RawMessage) any {
    if b == nil {
        return nil
    }
    return string(b)
}

func rawOrNil(b []byte) json.RawMessage {
    if b == nil {
        return nil
    }
    return json.RawMessage(b)
}

func normalizePtr(t *time.Time) *time.Time {
    if t == nil {
        return nil
    }
    n := domain.Normalize(*t)
    return &n
}

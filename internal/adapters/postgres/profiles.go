package postgres

import (
    "context"
    "errors"

    "github.com/jackc/pgx/v5"

    "scout/internal/domain"
)

const profileColumns = `domain, status, company_name, tagline, overview, value_props, key_offerings,
    primary_industries, favicon_url, last_snapshot_id, active_snapshot_id, active_snapshot_started_at,
    last_refreshed_at, last_error, created_at, updated_at`

// ProfileRepository

func (db *DB) GetProfile(ctx context.Context) (domain.Profile, bool, error) {
    p, err := scanProfile(db.Pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, domain.ProfileID))
    if errors.Is(err, pgx.ErrNoRows) {
        return domain.Profile{}, false, nil
    }
    if err != nil {
        return domain.Profile{}, false, err
    }
    return p, true, nil
}

func (db *DB) UpsertProfile(ctx context.Context, u domain.ProfileUpdate) (out domain.Profile, err error) {
    tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil { return out, err }
    defer func() {
        if err != nil { _ = tx.Rollback(ctx) } else { err = tx.Commit(ctx) }
    }()

    now := db.clock.Now()
    p, err := scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1 FOR UPDATE`, domain.ProfileID))
    if errors.Is(err, pgx.ErrNoRows) {
        p, err = domain.NewProfile(now), nil
    }
    if err != nil { return out, err }

    p.Apply(u, now)
    _, err = tx.Exec(ctx, `
        INSERT INTO profiles (id, `+profileColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (id) DO UPDATE SET
            domain = EXCLUDED.domain, status = EXCLUDED.status, company_name = EXCLUDED.company_name,
            tagline = EXCLUDED.tagline, overview = EXCLUDED.overview, value_props = EXCLUDED.value_props,
            key_offerings = EXCLUDED.key_offerings, primary_industries = EXCLUDED.primary_industries,
            favicon_url = EXCLUDED.favicon_url, last_snapshot_id = EXCLUDED.last_snapshot_id,
            active_snapshot_id = EXCLUDED.active_snapshot_id,
            active_snapshot_started_at = EXCLUDED.active_snapshot_started_at,
            last_refreshed_at = EXCLUDED.last_refreshed_at, last_error = EXCLUDED.last_error,
            updated_at = EXCLUDED.updated_at
    `, domain.ProfileID, p.Domain, string(p.Status), p.CompanyName, p.Tagline, p.Overview,
        p.ValueProps, p.KeyOfferings, p.PrimaryIndustries, p.FaviconURL, p.LastSnapshotID,
        p.ActiveSnapshotID, p.ActiveSnapshotStartedAt, p.LastRefreshedAt, p.LastError,
        p.CreatedAt, p.UpdatedAt)
    if err != nil { return out, err }
    return p, nil
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
    var p domain.Profile
    var status string
    err := row.Scan(&p.Domain, &status, &p.CompanyName, &p.Tagline, &p.Overview, &p.ValueProps,
        &p.KeyOfferings, &p.PrimaryIndustries, &p.FaviconURL, &p.LastSnapshotID, &p.ActiveSnapshotID,
        &p.ActiveSnapshotStartedAt, &p.LastRefreshedAt, &p.LastError, &p.CreatedAt, &p.UpdatedAt)
    if err != nil {
        return domain.Profile{}, err
    }
    p.Status = domain.ProfileStatus(status)
    if p.ValueProps == nil {
        p.ValueProps = []string{}
    }
    if p.KeyOfferings == nil {
        p.KeyOfferings = []domain.Offering{}
    }
    if p.PrimaryIndustries == nil {
        p.PrimaryIndustries = []string{}
    }
    p.CreatedAt = domain.Normalize(p.CreatedAt)
    p.UpdatedAt = domain.Normalize(p.UpdatedAt)
    p.ActiveSnapshotStartedAt = normalizePtr(p.ActiveSnapshotStartedAt)
    p.LastRefreshedAt = normalizePtr(p.LastRefreshedAt)
    return p, nil
}

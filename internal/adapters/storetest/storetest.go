// Package storetest holds the behavioural contract every ports.Store backend
// must satisfy, plus a fixed operation script used to compare backends.
package storetest

import (
    "context"
    "encoding/json"
    "fmt"
    "sync/atomic"
    "testing"
    "time"

    "github.com/google/go-cmp/cmp"
    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "scout/internal/domain"
    "scout/internal/ports"
)

// Factory builds an empty store bound to clock and id generator.
type Factory func(t *testing.T, clock clockwork.Clock, ids func() string) ports.Store

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

// SequentialIDs returns a deterministic id generator.
func SequentialIDs(prefix string) func() string {
    var n atomic.Int64
    return func() string { return fmt.Sprintf("%s%04d", prefix, n.Add(1)) }
}

// Result is everything read back at the end of Script.
type Result struct {
    Snapshots []domain.Snapshot
    First     domain.Snapshot
    Pages     []domain.Page
    Profile   domain.Profile
    Found     bool
}

// Script runs a fixed operation sequence against s. The clock is advanced
// between writes so ordering never depends on ties.
func Script(ctx context.Context, s ports.Store, clock *clockwork.FakeClock) (Result, error) {
    var res Result
    a, err := s.CreateSnapshot(ctx, "acme.com")
    if err != nil {
        return res, err
    }
    clock.Advance(time.Second)
    b, err := s.CreateSnapshot(ctx, "acme.com")
    if err != nil {
        return res, err
    }
    clock.Advance(time.Second)

    if _, err := s.UpsertProfile(ctx, domain.ProfileUpdate{
        Domain:                  domain.Some("acme.com"),
        Status:                  domain.Some(domain.ProfileRefreshing),
        ActiveSnapshotID:        domain.Some(domain.Ptr(a.ID)),
        ActiveSnapshotStartedAt: domain.Some(domain.Ptr(clock.Now())),
    }); err != nil {
        return res, err
    }

    done, total := 2, 3
    if _, err := s.UpdateSnapshot(ctx, a.ID, domain.SnapshotUpdate{
        SelectedURLs: domain.Some([]string{"https://acme.com", "https://acme.com/about"}),
        MapPayload:   domain.Some(json.RawMessage(`{ "links": ["https://acme.com", "https://acme.com/about"], "total": 2 }`)),
        Progress:     domain.Some(&domain.Progress{Stage: domain.StageScraping, Completed: &done, Total: &total, UpdatedAt: clock.Now()}),
    }); err != nil {
        return res, err
    }
    if err := s.ReplaceSnapshotPages(ctx, a.ID, []domain.Page{
        {URL: "https://acme.com/old", Title: "Old", Content: "stale", Position: 0},
    }); err != nil {
        return res, err
    }
    if err := s.ReplaceSnapshotPages(ctx, a.ID, []domain.Page{
        {URL: "https://acme.com", Title: "Acme", Description: "Home", Content: "Acme builds rockets.", Position: 0},
        {URL: "https://acme.com/about", Title: "About", Content: "Founded 1949.", Position: 1},
    }); err != nil {
        return res, err
    }
    clock.Advance(time.Second)

    completedAt := clock.Now()
    if _, err := s.UpdateSnapshot(ctx, a.ID, domain.SnapshotUpdate{
        Status:            domain.Some(domain.SnapshotComplete),
        Summaries:         domain.Some(json.RawMessage(`{"structured":{"companyName":"Acme"}}`)),
        CompletedAt:       domain.Some(&completedAt),
        VectorStoreID:     domain.Some(domain.Ptr("idx_1")),
        VectorStoreStatus: domain.Some(domain.Ptr(domain.IndexCompleted)),
        VectorStoreFileCounts: domain.Some(&domain.FileCounts{Completed: 2, Total: 2}),
    }); err != nil {
        return res, err
    }
    if _, err := s.UpdateSnapshot(ctx, b.ID, domain.SnapshotUpdate{
        Status:           domain.Some(domain.SnapshotFailed),
        CompletedAt:      domain.Some(&completedAt),
        VectorStoreError: domain.Some(domain.Ptr("boom")),
        Error:            domain.Some(domain.Ptr("no pages yielded extractable content")),
    }); err != nil {
        return res, err
    }
    if _, err := s.UpsertProfile(ctx, domain.ProfileUpdate{
        Status:            domain.Some(domain.ProfileReady),
        CompanyName:       domain.Some(domain.Ptr("Acme")),
        ValueProps:        domain.Some([]string{"fast", "cheap"}),
        KeyOfferings:      domain.Some([]domain.Offering{{Title: "Rockets", Description: "Big ones"}}),
        PrimaryIndustries: domain.Some([]string{"aerospace"}),
        LastSnapshotID:    domain.Some(domain.Ptr(a.ID)),
        ActiveSnapshotID:  domain.Some[*string](nil),
        LastRefreshedAt:   domain.Some(domain.Ptr(completedAt)),
    }); err != nil {
        return res, err
    }

    if res.Snapshots, err = s.ListSnapshots(ctx, 0); err != nil {
        return res, err
    }
    if res.First, err = s.GetSnapshotByID(ctx, a.ID); err != nil {
        return res, err
    }
    if res.Pages, err = s.ListSnapshotPages(ctx, a.ID); err != nil {
        return res, err
    }
    res.Profile, res.Found, err = s.GetProfile(ctx)
    return res, err
}

// Equivalent runs Script against both stores and requires identical results.
func Equivalent(t *testing.T, reference, candidate Factory) {
    t.Helper()
    ctx := context.Background()
    run := func(f Factory) Result {
        clock := clockwork.NewFakeClockAt(epoch)
        res, err := Script(ctx, f(t, clock, SequentialIDs("snap_")), clock)
        require.NoError(t, err)
        return res
    }
    want, got := run(reference), run(candidate)
    if diff := cmp.Diff(want, got); diff != "" {
        t.Fatalf("backend diverged from reference (-want +got):\n%s", diff)
    }
}

// Conformance exercises the behavioural contract of a single backend.
func Conformance(t *testing.T, f Factory) {
    ctx := context.Background()
    fresh := func(t *testing.T) (ports.Store, *clockwork.FakeClock) {
        clock := clockwork.NewFakeClockAt(epoch)
        return f(t, clock, SequentialIDs("id_")), clock
    }

    t.Run("update unknown snapshot is not found", func(t *testing.T) {
        s, _ := fresh(t)
        _, err := s.UpdateSnapshot(ctx, "missing", domain.SnapshotUpdate{Status: domain.Some(domain.SnapshotFailed)})
        require.ErrorIs(t, err, domain.ErrNotFound)
    })

    t.Run("unknown ids are not found everywhere", func(t *testing.T) {
        s, _ := fresh(t)
        _, err := s.GetSnapshotByID(ctx, "missing")
        assert.ErrorIs(t, err, domain.ErrNotFound)
        assert.ErrorIs(t, s.ReplaceSnapshotPages(ctx, "missing", nil), domain.ErrNotFound)
        _, err = s.ListSnapshotPages(ctx, "missing")
        assert.ErrorIs(t, err, domain.ErrNotFound)
        assert.ErrorIs(t, s.DeleteSnapshot(ctx, "missing"), domain.ErrNotFound)
    })

    t.Run("create starts running", func(t *testing.T) {
        s, clock := fresh(t)
        snap, err := s.CreateSnapshot(ctx, "acme.com")
        require.NoError(t, err)
        assert.Equal(t, domain.SnapshotRunning, snap.Status)
        assert.Equal(t, "acme.com", snap.Domain)
        assert.True(t, snap.CreatedAt.Equal(domain.Normalize(clock.Now())))
        assert.Empty(t, snap.SelectedURLs)
        assert.Nil(t, snap.CompletedAt)
    })

    t.Run("partial update leaves other fields", func(t *testing.T) {
        s, _ := fresh(t)
        snap, err := s.CreateSnapshot(ctx, "acme.com")
        require.NoError(t, err)
        _, err = s.UpdateSnapshot(ctx, snap.ID, domain.SnapshotUpdate{SelectedURLs: domain.Some([]string{"https://acme.com"})})
        require.NoError(t, err)
        got, err := s.UpdateSnapshot(ctx, snap.ID, domain.SnapshotUpdate{VectorStoreStatus: domain.Some(domain.Ptr(domain.IndexFailed))})
        require.NoError(t, err)
        assert.Equal(t, []string{"https://acme.com"}, got.SelectedURLs)
        assert.Equal(t, domain.SnapshotRunning, got.Status)
        require.NotNil(t, got.VectorStoreStatus)
        assert.Equal(t, domain.IndexFailed, *got.VectorStoreStatus)
    })

    t.Run("replace pages never appends", func(t *testing.T) {
        s, _ := fresh(t)
        snap, err := s.CreateSnapshot(ctx, "acme.com")
        require.NoError(t, err)
        require.NoError(t, s.ReplaceSnapshotPages(ctx, snap.ID, []domain.Page{{URL: "a", Position: 0}, {URL: "b", Position: 1}}))
        require.NoError(t, s.ReplaceSnapshotPages(ctx, snap.ID, []domain.Page{{URL: "c", Position: 0}}))
        pages, err := s.ListSnapshotPages(ctx, snap.ID)
        require.NoError(t, err)
        require.Len(t, pages, 1)
        assert.Equal(t, "c", pages[0].URL)
    })

    t.Run("list is newest first and honours limit", func(t *testing.T) {
        s, clock := fresh(t)
        var ids []string
        for i := 0; i < 3; i++ {
            snap, err := s.CreateSnapshot(ctx, "acme.com")
            require.NoError(t, err)
            ids = append(ids, snap.ID)
            clock.Advance(time.Minute)
        }
        all, err := s.ListSnapshots(ctx, 0)
        require.NoError(t, err)
        require.Len(t, all, 3)
        assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

        two, err := s.ListSnapshots(ctx, 2)
        require.NoError(t, err)
        require.Len(t, two, 2)
        assert.Equal(t, ids[2], two[0].ID)
    })

    t.Run("delete removes snapshot and pages", func(t *testing.T) {
        s, _ := fresh(t)
        snap, err := s.CreateSnapshot(ctx, "acme.com")
        require.NoError(t, err)
        require.NoError(t, s.ReplaceSnapshotPages(ctx, snap.ID, []domain.Page{{URL: "a"}}))
        require.NoError(t, s.DeleteSnapshot(ctx, snap.ID))
        _, err = s.GetSnapshotByID(ctx, snap.ID)
        assert.ErrorIs(t, err, domain.ErrNotFound)
        list, err := s.ListSnapshots(ctx, 0)
        require.NoError(t, err)
        assert.Empty(t, list)
    })

    t.Run("profile is a singleton created on first upsert", func(t *testing.T) {
        s, clock := fresh(t)
        _, found, err := s.GetProfile(ctx)
        require.NoError(t, err)
        assert.False(t, found)

        first, err := s.UpsertProfile(ctx, domain.ProfileUpdate{Domain: domain.Some("acme.com")})
        require.NoError(t, err)
        assert.Equal(t, domain.ProfileNotConfigured, first.Status)

        clock.Advance(time.Hour)
        second, err := s.UpsertProfile(ctx, domain.ProfileUpdate{Status: domain.Some(domain.ProfileReady)})
        require.NoError(t, err)
        assert.Equal(t, "acme.com", second.Domain)
        assert.Equal(t, domain.ProfileReady, second.Status)
        assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
        assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

        got, found, err := s.GetProfile(ctx)
        require.NoError(t, err)
        require.True(t, found)
        if diff := cmp.Diff(second, got); diff != "" {
            t.Fatalf("read-back differs (-upsert +get):\n%s", diff)
        }
    })

    t.Run("profile fields can be cleared", func(t *testing.T) {
        s, _ := fresh(t)
        _, err := s.UpsertProfile(ctx, domain.ProfileUpdate{ActiveSnapshotID: domain.Some(domain.Ptr("x"))})
        require.NoError(t, err)
        p, err := s.UpsertProfile(ctx, domain.ProfileUpdate{ActiveSnapshotID: domain.Some[*string](nil)})
        require.NoError(t, err)
        assert.Nil(t, p.ActiveSnapshotID)
    })
}

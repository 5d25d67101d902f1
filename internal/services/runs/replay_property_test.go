package runs

import (
    "context"
    "errors"
    "io"
    "testing"
    "time"

    "github.com/leanovate/gopter"
    "github.com/leanovate/gopter/gen"
    "github.com/leanovate/gopter/prop"

    "scout/internal/domain"
    "scout/internal/services/pipeline"
)

// splitRunner emits before events, pauses, then emits after events and
// completes.
func splitRunner(before, after int, mid, cont chan struct{}) Runner {
    return runnerFunc(func(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error {
        sink(domain.Event{Type: domain.EventSnapshotCreated, SnapshotID: "s", Domain: req.Domain})
        seq := 0
        emit := func(count int) {
            for i := 0; i < count; i++ {
                n := seq
                seq++
                sink(domain.Event{Type: domain.EventStatus, SnapshotID: "s", Domain: req.Domain, Stage: domain.StageScraping, Completed: &n})
            }
        }
        emit(before)
        close(mid)
        <-cont
        emit(after)
        sink(domain.Event{Type: domain.EventRunComplete, SnapshotID: "s", Domain: req.Domain})
        return nil
    })
}

func TestReplayThenLiveHasNoGapsOrDuplicates(t *testing.T) {
    params := gopter.DefaultTestParameters()
    params.MinSuccessfulTests = 40
    properties := gopter.NewProperties(params)

    properties.Property("subscriber sees every event once in emission order", prop.ForAll(
        func(before, after int) bool {
            mid, cont := make(chan struct{}), make(chan struct{})
            c, _ := newCoordinator(splitRunner(before, after, mid, cont))
            ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            defer c.Shutdown(ctx)

            id, err := c.StartRun(ctx, "acme.com", 0)
            if err != nil {
                return false
            }
            <-mid
            sub, err := c.Subscribe(id, true)
            if err != nil {
                return false
            }
            close(cont)

            var got []domain.Event
            for {
                ev, err := sub.Next(ctx)
                if errors.Is(err, io.EOF) {
                    break
                }
                if err != nil {
                    return false
                }
                got = append(got, ev)
            }
            if len(got) != before+after+2 {
                return false
            }
            if got[0].Type != domain.EventSnapshotCreated || got[len(got)-1].Type != domain.EventRunComplete {
                return false
            }
            for i, ev := range got[1 : len(got)-1] {
                if ev.Completed == nil || *ev.Completed != i {
                    return false
                }
            }
            return true
        },
        gen.IntRange(0, 25),
        gen.IntRange(0, 25),
    ))

    properties.TestingRun(t)
}

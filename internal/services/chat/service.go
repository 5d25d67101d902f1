package chat

import (
    "context"
    "fmt"
    "strings"

    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
)

const defaultTopK = 6

// Service answers questions about a snapshot from its published index.
type Service struct {
    snapshots ports.SnapshotRepository
    search    ports.IndexSearcher
    analyzer  ports.Analyzer
    log       *zap.Logger
    topK      int
}

func New(snapshots ports.SnapshotRepository, search ports.IndexSearcher, analyzer ports.Analyzer, log *zap.Logger) *Service {
    return &Service{snapshots: snapshots, search: search, analyzer: analyzer, log: log.Named("chat"), topK: defaultTopK}
}

// Prepare validates that a chat turn can run against snapshotID. It fails
// with a not-found error for unknown snapshots and a conflict when the
// snapshot's index has not finished publishing.
func (s *Service) Prepare(ctx context.Context, snapshotID string, turn ports.ChatTurn) (domain.Snapshot, []ports.ChatMessage, error) {
    msgs := append([]ports.ChatMessage{}, turn.Messages...)
    if q := strings.TrimSpace(turn.Question); q != "" {
        msgs = append(msgs, ports.ChatMessage{Role: "user", Content: q})
    }
    if len(msgs) == 0 || msgs[len(msgs)-1].Role != "user" || strings.TrimSpace(msgs[len(msgs)-1].Content) == "" {
        return domain.Snapshot{}, nil, &domain.ValidationError{Field: "messages", Message: "must end with a non-empty user message"}
    }
    snap, err := s.snapshots.GetSnapshotByID(ctx, snapshotID)
    if err != nil {
        return domain.Snapshot{}, nil, err
    }
    if snap.VectorStoreID == nil || snap.VectorStoreStatus == nil || *snap.VectorStoreStatus != domain.IndexCompleted {
        return domain.Snapshot{}, nil, &domain.ConflictError{
            Domain:     snap.Domain,
            SnapshotID: snap.ID,
            Message:    fmt.Sprintf("search index for snapshot %s is not ready", snap.ID),
        }
    }
    return snap, msgs, nil
}

// Turn runs one retrieval-augmented chat turn, emitting chat-delta events
// followed by chat-complete or chat-error. Model failures are reported as
// chat-error events rather than returned.
func (s *Service) Turn(ctx context.Context, snap domain.Snapshot, msgs []ports.ChatMessage, emit func(domain.Event)) {
    base := domain.Event{SnapshotID: snap.ID, Domain: snap.Domain}
    fail := func(err error) {
        s.log.Warn("chat turn failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
        ev := base
        ev.Type = domain.EventChatError
        ev.Message = err.Error()
        emit(ev)
    }

    question := msgs[len(msgs)-1].Content
    hits, err := s.search.Search(ctx, *snap.VectorStoreID, question, s.topK)
    if err != nil {
        fail(fmt.Errorf("search index: %w", err))
        return
    }
    res, err := s.analyzer.Chat(ctx, ports.ChatRequest{Domain: snap.Domain, Messages: msgs, Context: hits}, func(delta string) {
        ev := base
        ev.Type = domain.EventChatDelta
        ev.Delta = delta
        emit(ev)
    })
    if err != nil {
        fail(err)
        return
    }

    citations := make([]domain.Citation, 0, len(hits))
    for _, h := range hits {
        citations = append(citations, domain.Citation{URL: h.URL, Title: h.Title, Snippet: h.Snippet})
    }
    ev := base
    ev.Type = domain.EventChatComplete
    ev.Message = res.Message
    ev.Citations = citations
    emit(ev)
}

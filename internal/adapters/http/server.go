package httpadapter

import (
    "context"
    "errors"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"
    "github.com/oapi-codegen/runtime"
    openapi_types "github.com/oapi-codegen/runtime/types"
    "go.uber.org/zap"

    "scout/internal/domain"
    "scout/internal/ports"
)

// Server exposes runs, profiles, previews and chat over HTTP. Run and chat
// output is streamed as server-sent events.
type Server struct {
    runs     ports.Runs
    profiles ports.Profiles
    preview  ports.Previewer
    chat     ports.Chat
    log      *zap.Logger
}

func New(runs ports.Runs, profiles ports.Profiles, preview ports.Previewer, chat ports.Chat, log *zap.Logger) *Server {
    return &Server{runs: runs, profiles: profiles, preview: preview, chat: chat, log: log.Named("http")}
}

// Routes returns a chi.Router with every handler mounted.
func (s *Server) Routes() chi.Router {
    r := chi.NewRouter()
    r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

    r.Get("/healthz", s.getHealthz)
    r.Get("/profile", s.getProfile)
    r.Post("/preview", s.postPreview)
    r.Route("/runs", func(r chi.Router) {
        r.Post("/", s.postRun)
        r.Get("/{id}/stream", s.getRunStream)
        r.Delete("/{id}", s.deleteRun)
    })
    r.Route("/snapshots/{id}", func(r chi.Router) {
        r.Get("/", s.getSnapshot)
        r.Get("/chat", s.getChat)
        r.Post("/chat", s.postChat)
    })
    return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
        start := time.Now()
        next.ServeHTTP(ww, r)
        s.log.Info("request",
            zap.String("method", r.Method),
            zap.String("path", r.URL.Path),
            zap.Int("status", ww.Status()),
            zap.Duration("elapsed", time.Since(start)),
            zap.String("request_id", middleware.GetReqID(r.Context())),
        )
    })
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
    var limit *int
    if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
        writeError(w, &domain.ValidationError{Field: "limit", Message: err.Error()})
        return
    }
    n := 0
    if limit != nil {
        n = *limit
    }
    out, err := s.profiles.GetLatest(r.Context(), n)
    if err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
    id, err := snapshotID(r)
    if err != nil {
        writeError(w, err)
        return
    }
    out, err := s.profiles.GetSnapshot(r.Context(), id)
    if err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, out)
}

type previewRequest struct {
    Domain string `json:"domain"`
    Limit  int    `json:"limit"`
}

func (s *Server) postPreview(w http.ResponseWriter, r *http.Request) {
    var req previewRequest
    if err := decodeBody(r, &req); err != nil {
        writeError(w, err)
        return
    }
    if strings.TrimSpace(req.Domain) == "" {
        writeError(w, &domain.ValidationError{Field: "domain", Message: "is required"})
        return
    }
    out, err := s.preview.Preview(r.Context(), req.Domain, req.Limit)
    if err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, out)
}

type runRequest struct {
    Domain    string `json:"domain"`
    PageLimit int    `json:"pageLimit"`
}

type runResponse struct {
    SnapshotID string            `json:"snapshotId"`
    Status     string            `json:"status"`
    Result     *domain.RunResult `json:"result,omitempty"`
    Reason     string            `json:"reason,omitempty"`
}

// postRun starts a run. Clients accepting text/event-stream get the live
// stream; everyone else waits for the terminal event and gets JSON.
func (s *Server) postRun(w http.ResponseWriter, r *http.Request) {
    var req runRequest
    if err := decodeBody(r, &req); err != nil {
        writeError(w, err)
        return
    }
    if strings.TrimSpace(req.Domain) == "" {
        writeError(w, &domain.ValidationError{Field: "domain", Message: "is required"})
        return
    }
    if req.PageLimit < 0 {
        writeError(w, &domain.ValidationError{Field: "pageLimit", Message: "must not be negative"})
        return
    }
    id, err := s.runs.StartRun(r.Context(), req.Domain, req.PageLimit)
    if err != nil {
        writeError(w, err)
        return
    }

    if wantsStream(r) {
        s.stream(w, r, id)
        return
    }
    ev, err := s.runs.Wait(r.Context(), id)
    if err != nil {
        writeError(w, err)
        return
    }
    switch ev.Type {
    case domain.EventRunComplete:
        writeJSON(w, http.StatusOK, runResponse{SnapshotID: id, Status: string(domain.SnapshotComplete), Result: ev.Result})
    case domain.EventRunCancelled:
        writeJSON(w, http.StatusOK, runResponse{SnapshotID: id, Status: string(domain.SnapshotCancelled), Reason: ev.Reason})
    default:
        writeJSON(w, http.StatusBadGateway, errorBody{Error: ev.Message, SnapshotID: id})
    }
}

func (s *Server) getRunStream(w http.ResponseWriter, r *http.Request) {
    id, err := snapshotID(r)
    if err != nil {
        writeError(w, err)
        return
    }
    s.stream(w, r, id)
}

// stream relays a session's events, replaying everything buffered so far,
// and ends with the [DONE] frame once the session finishes.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, id string) {
    sub, err := s.runs.Subscribe(id, true)
    if err != nil {
        writeError(w, err)
        return
    }
    defer sub.Close()

    sse := startSSE(w)
    for {
        ev, err := sub.Next(r.Context())
        if errors.Is(err, io.EOF) {
            break
        }
        if err != nil {
            // client went away; the run carries on
            return
        }
        if err := sse.Send(ev); err != nil {
            s.log.Debug("stream write failed", zap.String("snapshot_id", id), zap.Error(err))
            return
        }
    }
    _ = sse.Done()
}

type cancelRequest struct {
    Reason string `json:"reason"`
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
    id, err := snapshotID(r)
    if err != nil {
        writeError(w, err)
        return
    }
    var req cancelRequest
    if err := decodeBody(r, &req); err != nil {
        writeError(w, err)
        return
    }
    ok, err := s.runs.Cancel(id, req.Reason)
    if err != nil {
        writeError(w, err)
        return
    }
    if !ok {
        writeError(w, domain.NotFound("running session", id))
        return
    }
    writeJSON(w, http.StatusAccepted, map[string]string{"snapshotId": id, "status": "cancelling"})
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
    var q string
    if err := runtime.BindQueryParameter("form", true, true, "q", r.URL.Query(), &q); err != nil {
        writeError(w, &domain.ValidationError{Field: "q", Message: err.Error()})
        return
    }
    s.chatTurn(w, r, ports.ChatTurn{Question: q})
}

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
    var turn ports.ChatTurn
    if err := decodeBody(r, &turn); err != nil {
        writeError(w, err)
        return
    }
    s.chatTurn(w, r, turn)
}

func (s *Server) chatTurn(w http.ResponseWriter, r *http.Request, turn ports.ChatTurn) {
    id, err := snapshotID(r)
    if err != nil {
        writeError(w, err)
        return
    }
    snap, msgs, err := s.chat.Prepare(r.Context(), id, turn)
    if err != nil {
        writeError(w, err)
        return
    }
    sse := startSSE(w)
    ctx, cancel := context.WithCancel(r.Context())
    defer cancel()
    s.chat.Turn(ctx, snap, msgs, func(ev domain.Event) {
        if err := sse.Send(ev); err != nil {
            cancel()
        }
    })
    _ = sse.Done()
}

func snapshotID(r *http.Request) (string, error) {
    var id openapi_types.UUID
    err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, runtime.BindStyledParameterOptions{
        ParamLocation: runtime.ParamLocationPath,
        Explode:       false,
        Required:      true,
    })
    if err != nil {
        return "", &domain.ValidationError{Field: "id", Message: err.Error()}
    }
    return id.String(), nil
}

func wantsStream(r *http.Request) bool {
    return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

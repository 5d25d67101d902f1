package httpadapter

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"

    "scout/internal/domain"
)

type errorBody struct {
    Error      string `json:"error"`
    SnapshotID string `json:"snapshotId,omitempty"`
}

func statusFor(err error) int {
    var (
        verr *domain.ValidationError
        uerr *domain.UpstreamError
    )
    switch {
    case errors.As(err, &verr):
        return http.StatusBadRequest
    case errors.Is(err, domain.ErrNotFound):
        return http.StatusNotFound
    case errors.Is(err, domain.ErrConflict):
        return http.StatusConflict
    case errors.As(err, &uerr):
        return http.StatusBadGateway
    case errors.Is(err, context.DeadlineExceeded):
        return http.StatusGatewayTimeout
    default:
        return http.StatusInternalServerError
    }
}

func writeError(w http.ResponseWriter, err error) {
    body := errorBody{Error: err.Error()}
    var conflict *domain.ConflictError
    if errors.As(err, &conflict) {
        body.SnapshotID = conflict.SnapshotID
    }
    writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads an optional JSON body into dst.
func decodeBody(r *http.Request, dst any) error {
    if r.Body == nil || r.ContentLength == 0 {
        return nil
    }
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(dst); err != nil {
        return &domain.ValidationError{Field: "body", Message: err.Error()}
    }
    return nil
}

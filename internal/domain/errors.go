package domain

import (
    "errors"
    "fmt"
    "net/http"
)

var (
    ErrNotFound  = errors.New("not found")
    ErrConflict  = errors.New("conflict")
    ErrCancelled = errors.New("run cancelled")
)

// ValidationError reports a malformed request. It never reaches the coordinator.
type ValidationError struct {
    Field   string
    Message string
}

func (e *ValidationError) Error() string {
    if e.Field == "" {
        return e.Message
    }
    return e.Field + ": " + e.Message
}

type NotFoundError struct {
    Kind string
    ID   string
}

func (e *NotFoundError) Error() string {
    if e.ID == "" {
        return e.Kind + " not found"
    }
    return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// ConflictError is returned when a domain already has a running session
// (SnapshotID names it so the caller can attach) or a snapshot is not ready
// for the requested operation.
type ConflictError struct {
    Domain     string
    SnapshotID string
    Message    string
}

func (e *ConflictError) Error() string {
    if e.Message != "" {
        return e.Message
    }
    return fmt.Sprintf("a run for %s is already in progress (snapshot %s)", e.Domain, e.SnapshotID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RunCancelledError is the control-flow signal raised at a cancellation
// checkpoint. It is turned into a run-cancelled event and never surfaces over HTTP.
type RunCancelledError struct {
    Stage  string
    Reason string
}

func (e *RunCancelledError) Error() string {
    return fmt.Sprintf("run cancelled during %s: %s", e.Stage, e.Reason)
}

func (e *RunCancelledError) Is(target error) bool { return target == ErrCancelled }

// UpstreamError wraps a failure from an external collaborator.
type UpstreamError struct {
    Service    string
    StatusCode int
    Err        error
}

func (e *UpstreamError) Error() string {
    if e.StatusCode != 0 {
        return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
    }
    return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimited reports whether the upstream asked us to back off.
func (e *UpstreamError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsRateLimited reports whether err carries an upstream rate-limit response.
func IsRateLimited(err error) bool {
    var up *UpstreamError
    return errors.As(err, &up) && up.RateLimited()
}

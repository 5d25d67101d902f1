package httpadapter

import (
    "bytes"
    "encoding/json"
    "net/http"
)

var doneFrame = []byte("data: [DONE]\n\n")

// EncodeFrame renders v as one server-sent event: "data: <JSON>\n\n".
func EncodeFrame(v any) ([]byte, error) {
    var buf bytes.Buffer
    buf.WriteString("data: ")
    enc := json.NewEncoder(&buf)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(v); err != nil {
        return nil, err
    }
    // Encode terminates with a single newline; the frame needs a blank line.
    buf.WriteByte('\n')
    return buf.Bytes(), nil
}

type sseWriter struct {
    w  http.ResponseWriter
    rc *http.ResponseController
}

// startSSE commits the event-stream headers. No heartbeats are sent.
func startSSE(w http.ResponseWriter) *sseWriter {
    h := w.Header()
    h.Set("Content-Type", "text/event-stream")
    h.Set("Cache-Control", "no-cache")
    h.Set("Connection", "keep-alive")
    h.Set("X-Accel-Buffering", "no")
    w.WriteHeader(http.StatusOK)
    s := &sseWriter{w: w, rc: http.NewResponseController(w)}
    _ = s.rc.Flush()
    return s
}

func (s *sseWriter) Send(v any) error {
    frame, err := EncodeFrame(v)
    if err != nil {
        return err
    }
    return s.write(frame)
}

// Done writes the stream terminator.
func (s *sseWriter) Done() error { return s.write(doneFrame) }

func (s *sseWriter) write(b []byte) error {
    if _, err := s.w.Write(b); err != nil {
        return err
    }
    return s.rc.Flush()
}

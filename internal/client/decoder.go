package client

import (
    "bufio"
    "bytes"
    "encoding/json"
    "fmt"
    "io"

    "scout/internal/domain"
)

var doneMarker = []byte("[DONE]")

// Decoder reads server-sent event frames. Only data lines are interpreted;
// comments and other fields are skipped.
type Decoder struct {
    r    *bufio.Reader
    done bool
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: bufio.NewReader(r)} }

// Decode returns the next event. It returns io.EOF after the [DONE] frame and
// io.ErrUnexpectedEOF if the stream ends without one.
func (d *Decoder) Decode() (domain.Event, error) {
    if d.done {
        return domain.Event{}, io.EOF
    }
    var data []byte
    for {
        line, err := d.r.ReadBytes('\n')
        if err != nil && len(line) == 0 {
            if err == io.EOF {
                return domain.Event{}, io.ErrUnexpectedEOF
            }
            return domain.Event{}, err
        }
        line = bytes.TrimRight(line, "\r\n")
        switch {
        case len(line) == 0:
            if data == nil {
                continue
            }
            if bytes.Equal(data, doneMarker) {
                d.done = true
                return domain.Event{}, io.EOF
            }
            var ev domain.Event
            if err := json.Unmarshal(data, &ev); err != nil {
                return domain.Event{}, fmt.Errorf("decode frame: %w", err)
            }
            return ev, nil
        case bytes.HasPrefix(line, []byte("data:")):
            payload := bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" "))
            if data != nil {
                data = append(data, '\n')
            }
            data = append(data, payload...)
        }
        if err != nil {
            return domain.Event{}, io.ErrUnexpectedEOF
        }
    }
}

package pipeline

import (
    "encoding/json"
    "fmt"
    "strings"
)

// RepairJSON turns a truncated JSON document into the largest valid prefix
// it can recover: open strings are closed, dangling keys and separators are
// dropped and open containers are closed. ok is false when nothing usable
// has arrived yet.
func RepairJSON(buf string) (json.RawMessage, bool) {
    s := stripFence(buf)
    for s != "" {
        if fixed := closeJSON(s); json.Valid([]byte(fixed)) {
            return json.RawMessage(fixed), true
        }
        cut := lastBoundary(s)
        if cut <= 0 || cut >= len(s) {
            return nil, false
        }
        s = s[:cut]
    }
    return nil, false
}

// stripFence drops a markdown code fence and any prose before the first
// opener. Trailing whitespace is left alone: it may belong to a string that
// is still streaming.
func stripFence(s string) string {
    s = strings.TrimLeft(s, " \t\r\n")
    if strings.HasPrefix(s, "```") {
        if i := strings.IndexByte(s, '\n'); i >= 0 {
            s = s[i+1:]
        } else {
            return ""
        }
    }
    if t := strings.TrimRight(s, " \t\r\n"); strings.HasSuffix(t, "```") {
        s = strings.TrimSuffix(t, "```")
    }
    if i := strings.IndexAny(s, "{["); i > 0 {
        s = s[i:]
    }
    return strings.TrimLeft(s, " \t\r\n")
}

// closeJSON appends whatever closers the prefix s needs. Raw control
// characters inside strings are escaped so a model that emits literal
// newlines still yields a valid document.
func closeJSON(s string) string {
    var (
        b       strings.Builder
        stack   []byte
        inStr   bool
        escaped bool
    )
    b.Grow(len(s) + 8)
    for i := 0; i < len(s); i++ {
        c := s[i]
        if inStr {
            switch {
            case escaped:
                escaped = false
            case c == '\\':
                escaped = true
            case c == '"':
                inStr = false
            case c < 0x20:
                b.WriteString(controlEscape(c))
                continue
            }
            b.WriteByte(c)
            continue
        }
        switch c {
        case '"':
            inStr = true
        case '{':
            stack = append(stack, '}')
        case '[':
            stack = append(stack, ']')
        case '}', ']':
            if len(stack) > 0 {
                stack = stack[:len(stack)-1]
            }
        }
        b.WriteByte(c)
    }

    out := b.String()
    if inStr {
        if escaped {
            out = out[:len(out)-1]
        }
        out += `"`
    } else {
        out = strings.TrimRight(out, " \t\r\n")
    }
    switch {
    case strings.HasSuffix(out, ","):
        out = out[:len(out)-1]
    case strings.HasSuffix(out, ":"):
        out += "null"
    }
    for i := len(stack) - 1; i >= 0; i-- {
        out += string(stack[i])
    }
    return out
}

func controlEscape(c byte) string {
    switch c {
    case '\n':
        return `\n`
    case '\r':
        return `\r`
    case '\t':
        return `\t`
    }
    return fmt.Sprintf(`\u%04x`, c)
}

// lastBoundary finds the last structural position outside a string where
// the document can be cut: just before a comma or just after an opener.
func lastBoundary(s string) int {
    var (
        inStr   bool
        escaped bool
        cut     = -1
    )
    for i := 0; i < len(s); i++ {
        c := s[i]
        if inStr {
            switch {
            case escaped:
                escaped = false
            case c == '\\':
                escaped = true
            case c == '"':
                inStr = false
            }
            continue
        }
        switch c {
        case '"':
            inStr = true
        case ',':
            cut = i
        case '{', '[':
            if i+1 < len(s) {
                cut = i + 1
            }
        }
    }
    return cut
}

// partialField reads a top-level string field from a repaired document.
func partialField(doc json.RawMessage, field string) string {
    var m map[string]json.RawMessage
    if err := json.Unmarshal(doc, &m); err != nil {
        return ""
    }
    var v string
    if err := json.Unmarshal(m[field], &v); err != nil {
        return ""
    }
    return v
}

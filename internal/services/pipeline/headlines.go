package pipeline

import (
    "regexp"
    "strings"
)

var headlinePattern = regexp.MustCompile(`(?m)^\s*(?:#{1,6}\s*)?\*\*(.+?)\*\*\s*$`)

// Headlines extracts the bold title lines a model writes at the start of
// each reasoning step, in order and without duplicates.
func Headlines(reasoning string) []string {
    out := []string{}
    seen := map[string]bool{}
    for _, m := range headlinePattern.FindAllStringSubmatch(reasoning, -1) {
        h := strings.TrimSpace(m[1])
        if h == "" || seen[h] {
            continue
        }
        seen[h] = true
        out = append(out, h)
    }
    return out
}

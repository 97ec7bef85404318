package thoughts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Entries are dated in the author's local calendar, which is pinned to
// UTC+9 regardless of where the service runs.
var entryZone = time.FixedZone("UTC+9", 9*60*60)

// SourceVoice marks entries that arrived through voice capture and should
// be queued for refinement.
const SourceVoice = "voice"

// EntryPayload is the inbound create request.
type EntryPayload struct {
	RequestID  string   `json:"request_id"`
	CapturedAt string   `json:"captured_at"`
	Raw        string   `json:"raw"`
	Kind       string   `json:"kind"`
	Labels     []string `json:"labels"`
	Source     string   `json:"source"`
}

// DateKey converts a timestamp to its UTC+9 calendar date.
func DateKey(t time.Time) string {
	return t.In(entryZone).Format("2006-01-02")
}

// FormatComment renders the Markdown body for one entry: a time header in
// UTC+9, an optional kind prefix, then the trimmed text.
func FormatComment(t time.Time, kind, raw string) string {
	var b strings.Builder
	b.WriteString(t.In(entryZone).Format("## 15:04"))
	b.WriteString("\n")
	if kind != "" {
		b.WriteString("**[" + kind + "]** ")
	}
	b.WriteString(strings.TrimSpace(raw))
	b.WriteString("\n")
	return b.String()
}

// MergeLabels combines the configured default labels (comma separated)
// with payload labels: trimmed, blanks dropped, first occurrence wins.
func MergeLabels(defaults string, extra []string) []string {
	merged := make([]string, 0, len(extra)+2)
	seen := make(map[string]bool)
	add := func(label string) {
		label = strings.TrimSpace(label)
		if label == "" || seen[label] {
			return
		}
		seen[label] = true
		merged = append(merged, label)
	}
	for _, l := range strings.Split(defaults, ",") {
		add(l)
	}
	for _, l := range extra {
		add(l)
	}
	return merged
}

// PayloadHash fingerprints what a request would actually write, so a
// replayed request id with different content is detectable.
func PayloadHash(dateKey, entry string, labels []string) string {
	canonical := struct {
		DateKey string   `json:"dateKey"`
		Entry   string   `json:"entry"`
		Labels  []string `json:"labels"`
	}{dateKey, entry, labels}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var headerPattern = regexp.MustCompile(`^## \d{2}:\d{2}\n`)

// SplitHeader separates a comment body into its time-header line and the
// content beneath it. The header is returned verbatim including its
// newline; bodies without a header come back with header == "".
func SplitHeader(body string) (header, content string) {
	if m := headerPattern.FindString(body); m != "" {
		return m, strings.TrimRight(body[len(m):], " \t\n")
	}
	return "", strings.TrimRight(body, " \t\n")
}

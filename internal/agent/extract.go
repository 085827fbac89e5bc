package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedJSONPattern  = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	fencedPlainPattern = regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```")
)

// extractJSON recognizes three envelopes an assistant's final text may
// wrap its answer in, tried in order: a ```json fenced block, a bare
// fenced block, or the first brace-delimited substring. ok is false if
// none of them contain valid JSON.
func extractJSON(text string) (raw json.RawMessage, ok bool) {
	candidates := []string{}

	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := fencedPlainPattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if brace := bareBraceSubstring(text); brace != "" {
		candidates = append(candidates, brace)
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}

// bareBraceSubstring returns the text from the first '{' to its matching
// '}' by brace-depth counting, so nested objects in the payload don't
// truncate the match early.
func bareBraceSubstring(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

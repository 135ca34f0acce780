package agents

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseAgentJSON decodes an agent's raw text as a JSON object, stripping
// optional markdown code-fence markers first.
func ParseAgentJSON(text string) (map[string]any, error) {
	cleaned := StripCodeFences(text)
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("parse agent output: %w", err)
	}
	return out, nil
}

// StripCodeFences removes a surrounding ```...``` block, with or without
// a language tag, leaving other text untouched.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		// Drop a language tag like "json" on the fence line.
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

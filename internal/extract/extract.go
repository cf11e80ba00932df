package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONBlock returns the substring between the first '{' and the last '}' in
// raw. Models wrap JSON in markdown fences and prose; the brace window cuts
// all of that away. When no window exists the trimmed input is returned as a
// best-effort fallback.
func JSONBlock(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(raw)
	}
	return raw[start : end+1]
}

// Decode extracts the JSON block from raw and unmarshals it into T. Unknown
// fields are ignored. Failure policy belongs to the caller: suggestion paths
// treat it as an invalid response, profile analysis degrades to a default.
func Decode[T any](raw string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(JSONBlock(raw)), &out); err != nil {
		return out, fmt.Errorf("decode model output: %w", err)
	}
	return out, nil
}

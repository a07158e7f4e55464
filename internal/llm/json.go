package llm

import (
	"encoding/json"
	"strings"
)

// StripFences removes markdown code fences that models habitually wrap
// around JSON output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseJSONObject extracts and unmarshals the first JSON object found in
// a model response. Models often surround JSON with prose or code
// fences; everything outside the outermost braces is ignored.
func ParseJSONObject(response string, v any) error {
	return json.Unmarshal([]byte(extract(response, '{', '}')), v)
}

// ParseJSONArray extracts and unmarshals the first JSON array found in a
// model response. A bare object is tolerated by the callers that need
// it; this function only locates the array brackets.
func ParseJSONArray(response string, v any) error {
	return json.Unmarshal([]byte(extract(response, '[', ']')), v)
}

// extract returns the substring between the first open delimiter and
// the last matching close delimiter, stripping fences first. If the
// delimiters are absent, the fence-stripped input is returned so the
// caller gets json.Unmarshal's error for the full payload.
func extract(response string, opening, closing byte) string {
	s := StripFences(response)
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}

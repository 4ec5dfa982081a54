package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// ExtractJSONObject returns the span from the first '{' to the last '}'.
// Markdown fences and surrounding prose are discarded with it.
func ExtractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// DecodeJSON extracts the JSON object from an LLM response and decodes it into target.
func DecodeJSON(text string, target any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty response")
	}
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), target); err != nil {
		return fmt.Errorf("parsing LLM response: %w (snippet: %s)", err, snippet(obj))
	}
	return nil
}

func snippet(s string) string {
	const limit = 160
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

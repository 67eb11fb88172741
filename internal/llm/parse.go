package llm

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/expand-cli/internal/model"
)

// parseExtractions parses the model's response into extracted events.
// Responses are expected to be a JSON array of event objects, but models
// wrap them in code fences, prepend prose, or truncate mid-object often
// enough that a strict parse is not viable. Recovery runs in stages;
// anything still unparseable yields an empty slice, never an error, so one
// bad response costs a page rather than a run.
func parseExtractions(raw string) []model.ExtractedEvent {
	cleaned := cleanJSONArray(raw)
	if cleaned == "" {
		return nil
	}

	var events []model.ExtractedEvent
	if err := json.Unmarshal([]byte(cleaned), &events); err == nil {
		return events
	}

	repaired := repairTruncatedJSON(cleaned)
	if err := json.Unmarshal([]byte(repaired), &events); err != nil {
		zap.L().Warn("unparseable extraction response",
			zap.Int("response_len", len(raw)))
		return nil
	}
	return events
}

// cleanJSONArray strips markdown code fences and surrounding prose, keeping
// the span from the first '[' to the last ']'. If no closing bracket
// follows the opening one the tail from '[' is returned for the repair
// stage.
func cleanJSONArray(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "[")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "]")
	if end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// repairTruncatedJSON recovers a response cut off mid-stream: it drops the
// partial trailing value by cutting back to the last closing brace or
// bracket, then appends the closers the bracket stack still holds. A
// response with no closing delimiter at all has no complete value to keep
// and repairs to the empty string.
func repairTruncatedJSON(s string) string {
	lastComplete := -1
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '}', ']':
			if !inString {
				lastComplete = i
			}
		}
	}
	if lastComplete < 0 {
		return ""
	}
	s = s[:lastComplete+1]

	var stack []byte
	inString = false
	escaped = false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	s = strings.TrimRight(s, ", \n\t")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

package planner

import (
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/judge"
)

// ParseBreakdowns extracts a decomposition from an agent response. Two
// shapes are tolerated, matching what models actually emit: a bare JSON
// array of TaskBreakdown objects, or an object wrapping it as {"tasks":
// [...]}. Fenced code blocks are stripped either way, and numeric-index
// dependency references are resolved to the id at that position.
func ParseBreakdowns(response string) ([]TaskBreakdown, error) {
	if raw, err := extractJSONArray(response); err == nil {
		var items []TaskBreakdown
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			resolveIndexDependencies(items)
			return items, nil
		}
	}

	raw, err := judge.ExtractJSONObject(response)
	if err != nil {
		return nil, errors.NewTaskError("no task breakdown in response", errors.ErrParse)
	}
	var wrapped struct {
		Tasks []TaskBreakdown `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err != nil || len(wrapped.Tasks) == 0 {
		return nil, errors.NewTaskError("malformed task breakdown", errors.ErrParse)
	}
	resolveIndexDependencies(wrapped.Tasks)
	return wrapped.Tasks, nil
}

// extractJSONArray returns the first balanced JSON array in text, with
// string-aware brace tracking and fence stripping.
func extractJSONArray(text string) (string, error) {
	cleaned := text
	if strings.Contains(cleaned, "```") {
		var b strings.Builder
		for _, line := range strings.Split(cleaned, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		cleaned = b.String()
	}

	start := strings.IndexByte(cleaned, '[')
	if start < 0 {
		return "", errors.NewTaskError("no JSON array in response", errors.ErrParse)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", errors.NewTaskError("unbalanced JSON array in response", errors.ErrParse)
}

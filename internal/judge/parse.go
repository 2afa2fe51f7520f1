package judge

import (
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// ExtractJSONObject returns the first balanced JSON object in text. Fenced
// code blocks are tolerated: fences are stripped before scanning. The scan
// is string-aware, so braces inside JSON strings do not unbalance it.
func ExtractJSONObject(text string) (string, error) {
	cleaned := stripFences(text)

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", errors.NewTaskError("no JSON object in response", errors.ErrParse)
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", errors.NewTaskError("unbalanced JSON object in response", errors.ErrParse)
}

// stripFences removes markdown code fence lines so a fenced JSON payload
// scans cleanly.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

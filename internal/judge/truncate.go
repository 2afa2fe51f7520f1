package judge

import "unicode/utf8"

// truncationMarker separates the preserved head from the preserved tail in a
// truncated log.
const truncationMarker = "\n\n[... log truncated ...]\n\n"

// TruncateLog fits a run log into budget bytes, preserving the first
// headBytes and as much of the tail as fits. Cuts land on UTF-8 rune
// boundaries, and the operation is idempotent: a log that already fits is
// returned unchanged.
func TruncateLog(log string, budget, headBytes int) string {
	if budget <= 0 || len(log) <= budget {
		return log
	}
	if headBytes > budget {
		headBytes = budget
	}

	marker := truncationMarker
	if headBytes+len(marker) >= budget {
		// No room for head plus tail; keep only the head.
		return cutAtRuneBoundary(log, budget)
	}

	head := cutAtRuneBoundary(log, headBytes)
	tailBudget := budget - len(head) - len(marker)
	tail := log[len(log)-tailBudget:]
	// Drop a leading partial rune in the tail.
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	return head + marker + tail
}

// cutAtRuneBoundary truncates s to at most n bytes without splitting a rune.
func cutAtRuneBoundary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

package intent

import (
	"encoding/json"
	"strings"
)

// FirstJSONObject returns the first balanced, valid JSON object in s. Model
// replies wrap JSON in fences and prose, so the scan skips anything before
// the object and retries from the next brace when a candidate fails to parse.
func FirstJSONObject(s string) (string, bool) {
	return firstBalanced(s, '{', '}')
}

// FirstJSONArray is FirstJSONObject for a top-level array.
func FirstJSONArray(s string) (string, bool) {
	return firstBalanced(s, '[', ']')
}

func firstBalanced(s string, opener, closer byte) (string, bool) {
	for from := 0; ; {
		idx := strings.IndexByte(s[from:], opener)
		if idx < 0 {
			return "", false
		}
		start := from + idx
		if end, ok := scanBalanced(s, start, opener, closer); ok {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		from = start + 1
	}
}

// scanBalanced finds the delimiter closing the one opened at s[start],
// honoring JSON strings and escapes.
func scanBalanced(s string, start int, opener, closer byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import "strings"

// CleanJSONBlock removes markdown code fences and surrounding prose from a JSON response.
// Models often wrap JSON in ```json ... ``` blocks or add a sentence before it even when
// asked not to. Text without a recognizable JSON value is returned trimmed.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		// Skip a language identifier on the fence line
		if idx := strings.Index(body, "\n"); idx >= 0 {
			firstLine := body[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.ContainsAny(firstLine, "{[") {
				body = body[idx+1:]
			}
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		text = strings.TrimSpace(body)
	}

	idx := strings.IndexAny(text, "{[")
	if idx < 0 {
		return text
	}
	candidate := text[idx:]
	var extracted string
	if candidate[0] == '{' {
		extracted = extractJSONObject(candidate)
	} else {
		extracted = extractJSONArray(candidate)
	}
	if extracted == "" {
		return text
	}
	return extracted
}

// extractJSONObject returns the balanced {...} value at the start of s, or "".
func extractJSONObject(s string) string {
	return extractBalanced(s, '{', '}')
}

// extractJSONArray returns the balanced [...] value at the start of s, or "".
func extractJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, closing byte) string {
	if len(s) == 0 || s[0] != open {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

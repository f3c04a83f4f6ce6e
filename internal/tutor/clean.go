package tutor

import (
	"regexp"
	"strings"
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	speakerPrefix = regexp.MustCompile(`(?i)^\s*(?:assistant:|user:)\s*`)
	codeFence     = regexp.MustCompile("(?i)```[a-z]*")
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// CleanLLMOutput strips control characters, a leading speaker label and
// code fences, collapses runs of blank lines and trims. Devanagari is kept.
// Applying it twice gives the same result as applying it once.
func CleanLLMOutput(text string) string {
	for {
		next := cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func cleanOnce(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = speakerPrefix.ReplaceAllString(text, "")
	text = codeFence.ReplaceAllString(text, "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// extractJSONObject returns the earliest-starting balanced {...} span,
// ignoring braces inside JSON strings. An unclosed brace does not hide a
// complete object that follows it. Runs in one pass.
func extractJSONObject(text string) (string, bool) {
	var open []int
	bestStart, bestEnd := -1, -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
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
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			if len(open) == 0 {
				return text[start : i+1], true
			}
			// Keep the span with the earliest start.
			if bestStart < 0 || start < bestStart {
				bestStart, bestEnd = start, i
			}
		}
	}
	if bestStart < 0 {
		return "", false
	}
	return text[bestStart : bestEnd+1], true
}

package voice

import (
	"strings"
	"unicode/utf8"
)

// Synthesis is split into sentence-sized segments so the first audio is
// ready sooner and a stop lands between segments.
const (
	prosodyFirstChunkMin = 24
	prosodyNextChunkMin  = 60
	prosodyCutWindow     = 80
)

// splitSpeech cuts text at sentence punctuation (including the Devanagari
// danda), then at commas, then at whitespace. Cuts never split a rune.
func splitSpeech(text string) []string {
	var out []string
	rest := text
	for rest != "" {
		minChars := prosodyNextChunkMin
		if len(out) == 0 {
			minChars = prosodyFirstChunkMin
		}
		segment, tail := nextProsodySegment(rest, minChars)
		rest = tail
		if segment = normalizeProsodySegment(segment); segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

func nextProsodySegment(input string, minChars int) (segment, rest string) {
	if utf8.RuneCountInString(input) <= minChars+prosodyCutWindow {
		return input, ""
	}
	runes := []rune(input)
	limit := min(len(runes), minChars+prosodyCutWindow)

	if idx := boundary(runes, minChars, limit, isSentenceEnd); idx >= 0 {
		return string(runes[:idx+1]), string(runes[idx+1:])
	}
	if idx := boundary(runes, minChars, limit, func(r rune) bool { return r == ',' }); idx >= 0 {
		return string(runes[:idx+1]), string(runes[idx+1:])
	}
	if idx := boundary(runes, minChars, limit, isCutSpace); idx >= 0 {
		return string(runes[:idx]), string(runes[idx:])
	}
	return string(runes[:limit]), string(runes[limit:])
}

func boundary(runes []rune, from, limit int, match func(rune) bool) int {
	for i := from - 1; i < limit; i++ {
		if match(runes[i]) {
			return i
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':', '\n', '।', '॥':
		return true
	}
	return false
}

func isCutSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func normalizeProsodySegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

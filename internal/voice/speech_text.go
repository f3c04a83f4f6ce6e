package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxSpeechRunes caps the free-text fallback read aloud for unparsed replies.
const maxSpeechRunes = 300

var (
	englishSection            = regexp.MustCompile(`(?is)English:\s*(.+?)(?:\n(?:Hindi|Teaching|Next)|$)`)
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// ExtractEnglishForTTS picks the English part of an unstructured reply: the
// text after "English:" up to a Hindi, Teaching or Next line, or else every
// line without Devanagari joined by spaces and capped at 300 runes. When
// nothing qualifies it returns the first 300 runes of text.
func ExtractEnglishForTTS(text string) string {
	if m := englishSection.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" || strings.ContainsFunc(line, isDevanagari) {
			continue
		}
		kept = append(kept, line)
	}
	if joined := truncateRunes(strings.TrimSpace(strings.Join(kept, " ")), maxSpeechRunes); joined != "" {
		return joined
	}
	return truncateRunes(text, maxSpeechRunes)
}

func isDevanagari(r rune) bool { return r >= 0x0900 && r <= 0x097F }

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// sanitizeSpeechText removes markup and symbol noise so TTS sounds
// conversational. Devanagari letters and marks are kept.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs sound unnatural when spoken.
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '।', '॥':
		return true
	default:
		return false
	}
}

package tutor

import (
	"strings"
	"unicode"
)

// Language is the detected language of an utterance.
type Language string

const (
	English  Language = "english"
	Hindi    Language = "hindi"
	Hinglish Language = "hinglish"
)

// ParseLanguage accepts a client supplied hint. Unknown or empty values
// return "" so detection runs instead.
func ParseLanguage(s string) Language {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case English:
		return English
	case Hindi:
		return Hindi
	case Hinglish:
		return Hinglish
	}
	return ""
}

// Romanized Hindi markers. Matching is by substring, so short entries such
// as "hai" also match inside longer words.
var hinglishKeywords = []string{
	"kaise", "kya", "main", "mera", "tera", "aap", "hum", "tum", "yeh", "woh",
	"hai", "hain", "tha", "thi", "raha", "rahi", "gaya", "gayi", "karo",
	"accha", "theek", "bahut", "zyada", "nahi", "nahin", "bilkul", "haan",
	"lekin", "aur", "phir", "matlab", "samajh", "bolo", "sunao", "jao", "aao",
}

func isDevanagari(r rune) bool { return r >= 0x0900 && r <= 0x097F }

func isASCIILetter(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }

// DetectLanguage classifies text as english, hindi or hinglish. Empty text
// is english.
func DetectLanguage(text string) Language {
	if text == "" {
		return English
	}
	var devanagari, latin bool
	for _, r := range text {
		switch {
		case isDevanagari(r):
			devanagari = true
		case isASCIILetter(r):
			latin = true
		}
	}
	switch {
	case devanagari && latin:
		return Hinglish
	case devanagari:
		return Hindi
	}

	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, unicode.IsSpace)
	if len(words) < 2 {
		return English
	}
	for _, kw := range hinglishKeywords {
		if strings.Contains(lower, kw) {
			return Hinglish
		}
	}
	return English
}

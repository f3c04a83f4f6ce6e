package logging

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Redact masks emails, card numbers and phone numbers in learner text
// before it is logged, and truncates it to max runes when max > 0.
func Redact(text string, max int) string {
	out := emailPattern.ReplaceAllString(text, "[email]")
	// Cards first so long digit runs are not reported as phone numbers.
	out = cardPattern.ReplaceAllString(out, "[card]")
	out = phonePattern.ReplaceAllString(out, "[phone]")
	if max > 0 {
		if r := []rune(out); len(r) > max {
			out = string(r[:max]) + "..."
		}
	}
	return out
}

package tutor

import (
	"strconv"
	"strings"
)

const defaultFluency = 5

// Feedback is the parsed speaking assessment.
type Feedback struct {
	Fluency    int    `json:"fluency"`
	Corrected  string `json:"corrected"`
	Suggestion string `json:"suggestion"`
	Mistake    string `json:"mistake"`
	HindiTip   string `json:"hindi_tip"`
}

// FeedbackResult is empty when generation failed.
type FeedbackResult struct {
	Text     string    `json:"text"`
	Feedback *Feedback `json:"feedback"`
}

// ParseFeedback reads the labelled lines of a feedback reply. Missing lines
// leave fields empty; fluency defaults to 5 and is clamped to 1..10.
func ParseFeedback(text string) Feedback {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	get := func(prefix string) string {
		for _, l := range lines {
			if rest, ok := strings.CutPrefix(l, prefix); ok {
				return strings.TrimSpace(rest)
			}
		}
		return ""
	}

	fluency, ok := leadingInt(get("FLUENCY:"))
	if !ok {
		fluency = defaultFluency
	}
	return Feedback{
		Fluency:    min(10, max(1, fluency)),
		Corrected:  get("CORRECTED:"),
		Suggestion: get("SUGGESTION:"),
		Mistake:    get("MISTAKE:"),
		HindiTip:   get("HINDI_TIP:"),
	}
}

// leadingInt parses an optional sign and the digits that follow, so "7/10"
// reads as 7.
func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

package voice

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure \U0001F60A **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "normalizes odd punctuation spacing",
			in:   "Hello***world///again",
			want: "Hello world again",
		},
		{
			name: "keeps devanagari and danda",
			in:   "यह सही है। **Good**",
			want: "यह सही है। Good",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sanitizeSpeechText(tc.in)
			if got != tc.want {
				t.Fatalf("sanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractEnglishForTTS(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "english section up to hindi line",
			in:   "English: I am going home.\nHindi: मैं घर जा रहा हूँ।",
			want: "I am going home.",
		},
		{
			name: "english section up to teaching line",
			in:   "english:   Where is the station?\nTeaching: use 'where'",
			want: "Where is the station?",
		},
		{
			name: "english section to end",
			in:   "Sure!\nEnglish: Thank you very much.",
			want: "Thank you very much.",
		},
		{
			name: "joins lines without devanagari",
			in:   "Great job!\nयह सही है।\nKeep practicing.",
			want: "Great job! Keep practicing.",
		},
		{
			name: "falls back to raw text",
			in:   "सब ठीक है",
			want: "सब ठीक है",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractEnglishForTTS(tc.in); got != tc.want {
				t.Fatalf("ExtractEnglishForTTS(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractEnglishForTTSCapsFallback(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := ExtractEnglishForTTS(long)
	if n := utf8.RuneCountInString(got); n != maxSpeechRunes {
		t.Fatalf("len = %d runes, want %d", n, maxSpeechRunes)
	}

	hindi := strings.Repeat("है", 200)
	got = ExtractEnglishForTTS(hindi)
	if !utf8.ValidString(got) || utf8.RuneCountInString(got) != maxSpeechRunes {
		t.Fatalf("fallback = %d runes (valid=%v), want %d", utf8.RuneCountInString(got), utf8.ValidString(got), maxSpeechRunes)
	}
}

package voice

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitSpeechShortTextIsOneSegment(t *testing.T) {
	got := splitSpeech("  We should   ship this today.  ")
	if len(got) != 1 || got[0] != "We should ship this today." {
		t.Fatalf("splitSpeech() = %q, want one normalized segment", got)
	}
	if got := splitSpeech("   "); len(got) != 0 {
		t.Fatalf("splitSpeech(blank) = %q, want none", got)
	}
}

func TestSplitSpeechCutsAtSentenceEnd(t *testing.T) {
	first := "We should ship this today after the review."
	second := strings.Repeat("Then we can benchmark it carefully. ", 5)
	got := splitSpeech(first + " " + second)
	if len(got) < 2 {
		t.Fatalf("splitSpeech() = %q, want several segments", got)
	}
	if got[0] != first {
		t.Fatalf("first segment = %q, want %q", got[0], first)
	}
}

func TestSplitSpeechPrefersCommaOverSpace(t *testing.T) {
	text := "We keep talking about the plan for the week, " + strings.Repeat("and nothing else happens here ", 6)
	got := splitSpeech(text)
	if got[0] != "We keep talking about the plan for the week," {
		t.Fatalf("first segment = %q, want cut at comma", got[0])
	}
}

func TestSplitSpeechCutsDevanagariOnDanda(t *testing.T) {
	first := "यह वाक्य पूरी तरह से सही है और बहुत अच्छा है।"
	text := first + " " + strings.Repeat("आप बहुत अच्छा बोल रहे हैं ", 8)
	got := splitSpeech(text)
	if got[0] != first {
		t.Fatalf("first segment = %q, want %q", got[0], first)
	}
	for _, s := range got {
		if !utf8.ValidString(s) {
			t.Fatalf("segment %q is not valid UTF-8", s)
		}
	}
}

func TestSplitSpeechKeepsAllWords(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 40)
	got := splitSpeech(text)
	if joined := strings.Join(got, " "); joined != strings.Join(strings.Fields(text), " ") {
		t.Fatalf("rejoined segments lost text: %q", joined)
	}
	for i, s := range got {
		if n := utf8.RuneCountInString(s); n > prosodyNextChunkMin+prosodyCutWindow {
			t.Fatalf("segment %d has %d runes, want <= %d", i, n, prosodyNextChunkMin+prosodyCutWindow)
		}
	}
}

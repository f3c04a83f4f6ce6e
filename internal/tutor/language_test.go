package tutor

import "testing"

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		in   string
		want Language
	}{
		{"", English},
		{"How are you today?", English},
		{"मैं ठीक हूँ", Hindi},
		{"मैं office जा रहा हूँ", Hinglish},
		{"kya haal hai", Hinglish},
		{"kya", English},
		{"I am going home", English},
		{"Main market ja raha hoon", Hinglish},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.in); got != tc.want {
			t.Fatalf("DetectLanguage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	cases := map[string]Language{
		"Hindi":    Hindi,
		" english": English,
		"HINGLISH": Hinglish,
		"tamil":    "",
		"":         "",
	}
	for in, want := range cases {
		if got := ParseLanguage(in); got != want {
			t.Fatalf("ParseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

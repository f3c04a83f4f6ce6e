package logging

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
		gone []string
	}{
		{
			name: "contact details",
			in:   "Mera email ravi@example.com hai aur number +91 98765 43210",
			want: []string{"[email]", "[phone]"},
			gone: []string{"ravi@example.com", "98765"},
		},
		{
			name: "card before phone",
			in:   "card 4242 4242 4242 4242 please",
			want: []string{"[card]"},
			gone: []string{"[phone]"},
		},
		{
			name: "plain sentence untouched",
			in:   "I goed to market yesterday",
			want: []string{"I goed to market yesterday"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Redact(tc.in, 0)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Fatalf("Redact(%q) = %q, want substring %q", tc.in, got, w)
				}
			}
			for _, g := range tc.gone {
				if strings.Contains(got, g) {
					t.Fatalf("Redact(%q) = %q, must not contain %q", tc.in, got, g)
				}
			}
		})
	}
}

func TestRedactTruncatesRunes(t *testing.T) {
	got := Redact("नमस्ते दुनिया", 3)
	if got != "नमस..." {
		t.Fatalf("Redact() = %q, want %q", got, "नमस...")
	}
}

package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockProvider is a deterministic offline backend used when no local model
// runtime is configured. It answers tutor, quiz and feedback prompts in the
// shapes the tutor parses.
type MockProvider struct {
	// TokenDelay slows streaming down to mimic a real model.
	TokenDelay time.Duration
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onToken TokenHandler) (Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Generation{}, ErrEmptyPrompt
	}
	reply := buildMockReply(prompt)
	tokens := strings.SplitAfter(reply, " ")
	if opts.MaxTokens > 0 && len(tokens) > opts.MaxTokens && !strings.HasPrefix(reply, "{") {
		tokens = tokens[:opts.MaxTokens]
	}

	var b strings.Builder
	for _, tok := range tokens {
		if p.TokenDelay > 0 {
			t := time.NewTimer(p.TokenDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return Generation{Text: b.String()}, ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return Generation{Text: b.String()}, err
		}
		b.WriteString(tok)
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return Generation{Text: b.String()}, err
			}
		}
	}
	return Generation{Text: b.String()}, nil
}

func buildMockReply(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Generate a quiz question."):
		topic := "grammar"
		if i := strings.Index(prompt, "Topic:"); i >= 0 {
			rest := prompt[i+len("Topic:"):]
			if j := strings.IndexByte(rest, '\n'); j >= 0 {
				rest = rest[:j]
			}
			if t := strings.TrimSpace(rest); t != "" && t != "random" {
				topic = t
			}
		}
		b, _ := json.Marshal(map[string]any{
			"questions": []map[string]any{{
				"topic":    topic,
				"question": "Choose the correct sentence.",
				"options":  []string{"A) She go to school.", "B) She goes to school.", "C) She going school.", "D) She gone to school."},
				"answer":   "B",
			}},
		})
		return string(b)
	case strings.HasPrefix(prompt, "Analyze this sentence"):
		return "FLUENCY: 7\nCORRECTED: I am going to the market.\nSUGGESTION: Use the continuous tense for plans.\nMISTAKE: Missing auxiliary verb.\nHINDI_TIP: 'am' zaroor lagaiye."
	}

	utterance := lastUserLine(prompt)
	if utterance == "" {
		utterance = "Hello"
	}
	b, _ := json.Marshal(map[string]string{
		"mode":              "translate",
		"english":           utterance,
		"hindi_explanation": fmt.Sprintf("Aapne kaha: %s", utterance),
		"practice":          "Please repeat the sentence slowly.",
	})
	return string(b)
}

func lastUserLine(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if rest, ok := strings.CutPrefix(lines[i], "User:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// Transcribe returns a fixed phrase for any audible input.
func (p *MockProvider) Transcribe(ctx context.Context, samples []float32, _ TranscribeOptions) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	for _, s := range samples {
		if s > 0.001 || s < -0.001 {
			return Transcript{Text: "simulated voice input", Language: "en"}, nil
		}
	}
	return Transcript{}, nil
}

// Synthesize returns silence sized to the text (about 60ms per character).
func (p *MockProvider) Synthesize(ctx context.Context, text string, _ SynthesisOptions) (Speech, error) {
	if err := ctx.Err(); err != nil {
		return Speech{}, err
	}
	const rate = 22050
	n := len([]rune(strings.TrimSpace(text))) * rate * 60 / 1000
	return Speech{Samples: make([]float32, n), SampleRate: rate}, nil
}

// Present, Fetch and Load make the mock usable as a ModelBackend.
func (p *MockProvider) Present(context.Context, Model) (bool, error) { return true, nil }

func (p *MockProvider) Fetch(context.Context, Model) error { return nil }

func (p *MockProvider) Load(context.Context, Model, LoadOptions) error { return nil }

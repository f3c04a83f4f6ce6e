package inference

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMockGeneratesTutorJSON(t *testing.T) {
	p := NewMockProvider()
	var streamed strings.Builder
	gen, err := p.GenerateStream(context.Background(), "User: main ghar ja raha hoon\nAssistant:", GenerateOptions{}, func(tok string) error {
		streamed.WriteString(tok)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if streamed.String() != gen.Text {
		t.Fatalf("streamed %q != final %q", streamed.String(), gen.Text)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(gen.Text), &out); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if out["english"] != "main ghar ja raha hoon" {
		t.Fatalf("english = %q", out["english"])
	}
}

func TestMockQuizReplyUsesTopic(t *testing.T) {
	gen, err := NewMockProvider().GenerateStream(context.Background(), "Generate a quiz question. Topic: tenses\nOutput valid JSON:\n", GenerateOptions{}, nil)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if !strings.Contains(gen.Text, `"topic":"tenses"`) {
		t.Fatalf("quiz reply = %q, want tenses topic", gen.Text)
	}
}

func TestMockRespectsCancellation(t *testing.T) {
	p := &MockProvider{TokenDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.GenerateStream(ctx, "User: hello there friend\nAssistant:", GenerateOptions{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestMockTranscribeSilence(t *testing.T) {
	p := NewMockProvider()
	tr, err := p.Transcribe(context.Background(), make([]float32, 1600), TranscribeOptions{})
	if err != nil || tr.Text != "" {
		t.Fatalf("Transcribe(silence) = %+v, %v; want empty", tr, err)
	}
	tr, _ = p.Transcribe(context.Background(), []float32{0, 0.2, -0.2}, TranscribeOptions{})
	if tr.Text == "" {
		t.Fatalf("Transcribe(tone) returned empty text")
	}
}

func TestPiperModelFile(t *testing.T) {
	got := PiperModelFile("/voices", "vits-piper-en_US-lessac-medium")
	if got != "/voices/en_US-lessac-medium.onnx" {
		t.Fatalf("PiperModelFile() = %q", got)
	}
}

package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ent0n29/vaani/internal/logging"
	"github.com/ent0n29/vaani/internal/reliability"
)

func TestOllamaGenerateStreamRelaysTokens(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		for _, tok := range []string{"Hello", " there", "!"} {
			fmt.Fprintf(w, "{\"response\":%q,\"done\":false}\n", tok)
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{URL: srv.URL, Model: "tiny"}, logging.Nop())
	var tokens []string
	gen, err := p.GenerateStream(context.Background(), "hi", GenerateOptions{
		SystemPrompt:  "be brief",
		MaxTokens:     16,
		Temperature:   0.7,
		StopSequences: []string{"User:"},
	}, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if gen.Text != "Hello there!" {
		t.Fatalf("text = %q, want %q", gen.Text, "Hello there!")
	}
	if len(tokens) != 3 {
		t.Fatalf("tokens = %v, want 3", tokens)
	}
	if !got.Stream || got.Model != "tiny" || got.System != "be brief" || got.Options.NumPredict != 16 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestOllamaGenerateStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{URL: srv.URL}, logging.Nop())
	_, err := p.GenerateStream(context.Background(), "hi", GenerateOptions{}, nil)
	var he *reliability.HTTPStatusError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("error = %v, want HTTP 404 status error", err)
	}
}

func TestOllamaTokenHandlerStopsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"a","done":false}`)
		fmt.Fprintln(w, `{"response":"b","done":false}`)
	}))
	defer srv.Close()

	stop := errors.New("stop")
	p := NewOllamaProvider(OllamaConfig{URL: srv.URL}, logging.Nop())
	gen, err := p.GenerateStream(context.Background(), "hi", GenerateOptions{}, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("error = %v, want stop", err)
	}
	if gen.Text != "a" {
		t.Fatalf("partial text = %q, want %q", gen.Text, "a")
	}
}

func TestOllamaPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"models":[{"name":"qwen2.5:1.5b-instruct"},{"name":"phi3:latest"}]}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{URL: srv.URL}, logging.Nop())
	for id, want := range map[string]bool{"qwen2.5:1.5b-instruct": true, "phi3": true, "llama3": false} {
		got, err := p.Present(context.Background(), Model{ID: id})
		if err != nil {
			t.Fatalf("Present(%s) error = %v", id, err)
		}
		if got != want {
			t.Fatalf("Present(%s) = %v, want %v", id, got, want)
		}
	}
}

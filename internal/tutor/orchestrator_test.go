package tutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/vaani/internal/bridge"
	"github.com/ent0n29/vaani/internal/inference"
)

type fakeWorker struct {
	available bool
	text      string
	err       error
	tokens    []string
	block     bool

	mu    sync.Mutex
	calls []bridge.GenerateOptions
}

func (w *fakeWorker) IsAvailable() bool { return w.available }

func (w *fakeWorker) Generate(ctx context.Context, prompt string, opts bridge.GenerateOptions, onToken func(string)) (bridge.Result, error) {
	w.mu.Lock()
	w.calls = append(w.calls, opts)
	w.mu.Unlock()
	if w.block {
		<-ctx.Done()
		return bridge.Result{}, ctx.Err()
	}
	acc := ""
	for _, tok := range w.tokens {
		acc += tok
		if onToken != nil {
			onToken(acc)
		}
	}
	return bridge.Result{Text: w.text}, w.err
}

type fakeGenerator struct {
	tokens []string
	err    error
	// hang blocks after streaming tokens until ctx ends.
	hang bool

	mu      sync.Mutex
	prompts []string
	opts    []inference.GenerateOptions
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, prompt string, opts inference.GenerateOptions, onToken inference.TokenHandler) (inference.Generation, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	g.mu.Unlock()
	var b strings.Builder
	for _, tok := range g.tokens {
		b.WriteString(tok)
		if err := onToken(tok); err != nil {
			return inference.Generation{Text: b.String()}, err
		}
	}
	if g.hang {
		<-ctx.Done()
		return inference.Generation{Text: b.String()}, ctx.Err()
	}
	return inference.Generation{Text: b.String()}, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) ObserveGeneration(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, kind+"/"+path)
}

func TestGenerateResponseUsesWorkerFirst(t *testing.T) {
	w := &fakeWorker{available: true, text: `Assistant: {"mode":"translate","english":"How are you?"}`, tokens: []string{"a", "b"}}
	g := &fakeGenerator{tokens: []string{"direct"}}
	rec := &pathRecorder{}
	o := New(Config{}, w, g, WithRecorder(rec))

	var streamed []string
	resp, err := o.GenerateResponse(context.Background(), "aap kaise ho", nil, func(acc string) { streamed = append(streamed, acc) }, "")
	if err != nil {
		t.Fatalf("GenerateResponse() error = %v", err)
	}
	if resp.Path != PathWorker {
		t.Fatalf("Path = %q, want %q", resp.Path, PathWorker)
	}
	if resp.Language != Hinglish {
		t.Fatalf("Language = %q, want %q", resp.Language, Hinglish)
	}
	if parsed, ok := AsResponse(resp.Teaching); !ok || parsed.English != "How are you?" {
		t.Fatalf("Teaching = %#v, want english %q", resp.Teaching, "How are you?")
	}
	if g.calls() != 0 {
		t.Fatalf("direct calls = %d, want 0", g.calls())
	}
	if len(streamed) != 2 || streamed[1] != "ab" {
		t.Fatalf("streamed = %v, want [a ab]", streamed)
	}
	opts := w.calls[0]
	if opts.MaxTokens != 256 || opts.Temperature != 0.7 || opts.Timeout != DefaultGenerationTimeout {
		t.Fatalf("worker options = %+v", opts)
	}
	if len(opts.StopSequences) != 2 || opts.StopSequences[1] != "\n\n\n\n" {
		t.Fatalf("StopSequences = %q", opts.StopSequences)
	}
	if len(rec.paths) != 1 || rec.paths[0] != "response/worker" {
		t.Fatalf("recorded = %v, want [response/worker]", rec.paths)
	}
}

func TestGenerateResponseFallsBackToDirect(t *testing.T) {
	cases := []struct {
		name   string
		worker *fakeWorker
	}{
		{"worker error", &fakeWorker{available: true, err: bridge.ErrRequestTimeout}},
		{"worker empty", &fakeWorker{available: true, text: "   "}},
		{"worker unavailable", &fakeWorker{available: false, text: "unused"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGenerator{tokens: []string{"Hello ", "there"}}
			o := New(Config{}, tc.worker, g)
			resp, err := o.GenerateResponse(context.Background(), "hi", nil, nil, English)
			if err != nil {
				t.Fatalf("GenerateResponse() error = %v", err)
			}
			if resp.Text != "Hello there" || resp.Path != PathDirect {
				t.Fatalf("resp = %+v, want direct %q", resp, "Hello there")
			}
			if _, ok := resp.Teaching.(Unparsed); !ok {
				t.Fatalf("Teaching = %#v, want Unparsed", resp.Teaching)
			}
			if g.opts[0].SystemPrompt != SystemPrompt {
				t.Fatalf("direct system prompt not set")
			}
		})
	}
}

func TestGenerateResponseNilWorker(t *testing.T) {
	o := New(Config{}, nil, &fakeGenerator{tokens: []string{"ok"}})
	resp, err := o.GenerateResponse(context.Background(), "hi", nil, nil, "")
	if err != nil || resp.Text != "ok" {
		t.Fatalf("GenerateResponse() = (%+v, %v), want ok", resp, err)
	}
}

func TestGenerateResponsePartialTextWins(t *testing.T) {
	g := &fakeGenerator{tokens: []string{"partial ", "answer"}, err: errors.New("stream broke")}
	o := New(Config{}, nil, g)
	resp, err := o.GenerateResponse(context.Background(), "hi", nil, nil, "")
	if err != nil {
		t.Fatalf("GenerateResponse() error = %v", err)
	}
	if resp.Text != "partial answer" {
		t.Fatalf("Text = %q, want %q", resp.Text, "partial answer")
	}
}

func TestGenerateResponseTimeoutWithoutText(t *testing.T) {
	g := &fakeGenerator{hang: true}
	o := New(Config{GenerationTimeout: 30 * time.Millisecond}, nil, g)
	_, err := o.GenerateResponse(context.Background(), "hi", nil, nil, "")
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("GenerateResponse() error = %v, want ErrGenerationTimeout", err)
	}
	if err.Error() == ErrGenerationTimeout.Error() {
		t.Fatalf("error %q does not carry the cause", err)
	}
}

func TestGenerateResponseTimeoutKeepsPartial(t *testing.T) {
	g := &fakeGenerator{tokens: []string{"slow but "}, hang: true}
	o := New(Config{GenerationTimeout: 30 * time.Millisecond}, nil, g)
	resp, err := o.GenerateResponse(context.Background(), "hi", nil, nil, "")
	if err != nil {
		t.Fatalf("GenerateResponse() error = %v", err)
	}
	if resp.Text != "slow but" {
		t.Fatalf("Text = %q, want %q", resp.Text, "slow but")
	}
}

func TestGenerateResponseEmpty(t *testing.T) {
	o := New(Config{}, nil, &fakeGenerator{tokens: []string{"Assistant:", "  ```"}})
	_, err := o.GenerateResponse(context.Background(), "hi", nil, nil, "")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("GenerateResponse() error = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateResponseCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &fakeWorker{available: true, block: true}
	g := &fakeGenerator{tokens: []string{"never"}}
	o := New(Config{}, w, g)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := o.GenerateResponse(ctx, "hi", nil, nil, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GenerateResponse() error = %v, want context.Canceled", err)
	}
	if g.calls() != 0 {
		t.Fatalf("direct calls = %d, want 0 after cancel", g.calls())
	}
}

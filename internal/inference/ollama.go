package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/reliability"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "qwen2.5:1.5b-instruct"
)

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	URL   string
	Model string
}

// OllamaProvider streams completions from a local Ollama server and manages
// its models through the pull and load endpoints.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewOllamaProvider(cfg OllamaConfig, logger zerolog.Logger) *OllamaProvider {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		url = DefaultOllamaURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaProvider{
		baseURL: url,
		model:   model,
		// No client timeout: streams are bounded by the caller's context.
		httpClient: &http.Client{},
		logger:     logger.With().Str("provider", "ollama").Logger(),
	}
}

// Model returns the default model tag.
func (p *OllamaProvider) Model() string { return p.model }

type ollamaOptions struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
	NumCtx        int      `json:"num_ctx,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// GenerateStream posts to /api/generate and relays NDJSON tokens.
func (p *OllamaProvider) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onToken TokenHandler) (Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Generation{}, ErrEmptyPrompt
	}
	req := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: opts.SystemPrompt,
		Stream: true,
		Options: ollamaOptions{
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			RepeatPenalty: opts.RepeatPenalty,
			NumPredict:    opts.MaxTokens,
			NumCtx:        opts.ContextLength,
			Stop:          opts.StopSequences,
		},
	}
	resp, err := p.post(ctx, "/api/generate", req)
	if err != nil {
		return Generation{}, err
	}
	defer resp.Body.Close()

	start := time.Now()
	var b strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Generation{Text: b.String()}, fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return Generation{Text: b.String()}, fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			b.WriteString(chunk.Response)
			if onToken != nil {
				if err := onToken(chunk.Response); err != nil {
					return Generation{Text: b.String()}, err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Generation{Text: b.String()}, ctxErr
		}
		return Generation{Text: b.String()}, fmt.Errorf("read ollama stream: %w", err)
	}
	p.logger.Debug().Dur("elapsed", time.Since(start)).Int("chars", b.Len()).Msg("generation complete")
	return Generation{Text: b.String()}, nil
}

// Present reports whether the model tag is already pulled.
func (p *OllamaProvider) Present(ctx context.Context, m Model) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode ollama tags: %w", err)
	}
	for _, have := range result.Models {
		if have.Name == m.ID || strings.TrimSuffix(have.Name, ":latest") == m.ID {
			return true, nil
		}
	}
	return false, nil
}

// Fetch pulls the model tag.
func (p *OllamaProvider) Fetch(ctx context.Context, m Model) error {
	p.logger.Info().Str("model", m.ID).Msg("pulling model")
	resp, err := p.post(ctx, "/api/pull", map[string]any{"model": m.ID, "stream": false})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Load asks the server to load the model into memory with the given context size.
func (p *OllamaProvider) Load(ctx context.Context, m Model, opts LoadOptions) error {
	resp, err := p.post(ctx, "/api/generate", map[string]any{
		"model":   m.ID,
		"stream":  false,
		"options": map[string]any{"num_ctx": opts.ContextLength},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &reliability.HTTPStatusError{
		Provider:   "ollama",
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(msg)),
	}
}

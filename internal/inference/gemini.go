package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiGenerator streams completions from the hosted Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		logger: logger.With().Str("provider", "gemini").Logger(),
	}, nil
}

func (g *GeminiGenerator) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onToken TokenHandler) (Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Generation{}, ErrEmptyPrompt
	}
	cfg := geminiConfig(opts)

	var b strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), cfg) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Generation{Text: b.String()}, ctxErr
			}
			return Generation{Text: b.String()}, fmt.Errorf("gemini stream: %w", err)
		}
		tok := resp.Text()
		if tok == "" {
			continue
		}
		b.WriteString(tok)
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return Generation{Text: b.String()}, err
			}
		}
	}
	g.logger.Debug().Int("chars", b.Len()).Msg("generation complete")
	return Generation{Text: b.String()}, nil
}

func geminiConfig(opts GenerateOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		StopSequences: opts.StopSequences,
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(opts.TopP))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if sys := strings.TrimSpace(opts.SystemPrompt); sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	return cfg
}

package app

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/config"
	"github.com/ent0n29/vaani/internal/inference"
)

// WhisperBaseURL is the published ggml build of whisper base.
const WhisperBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin"

// Providers are the inference backends resolved from configuration.
type Providers struct {
	Generator   inference.Generator
	Models      inference.ModelManager
	Transcriber inference.Transcriber
	Synthesizer inference.Synthesizer

	// WorkerModels are prepared by the worker's INIT handshake.
	WorkerModels []inference.Model
	Detail       string
}

func resolveProviders(ctx context.Context, cfg config.Config, logger zerolog.Logger) (Providers, error) {
	mock := inference.NewMockProvider()
	p := Providers{}

	tryOllama := func() bool {
		if !isTCPListening(hostPort(cfg.OllamaURL, "11434"), 300*time.Millisecond) {
			return false
		}
		o := inference.NewOllamaProvider(inference.OllamaConfig{URL: cfg.OllamaURL, Model: cfg.OllamaModel}, logger)
		p.Generator = o
		p.Models = inference.NewCatalog(o)
		p.WorkerModels = []inference.Model{{ID: o.Model(), Category: inference.CategoryLanguage}}
		return true
	}
	useGemini := func() error {
		g, err := inference.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return fmt.Errorf("gemini init failed: %w", err)
		}
		p.Generator = g
		p.Models = inference.NewCatalog(mock)
		return nil
	}
	useMock := func() {
		p.Generator = mock
		p.Models = inference.NewCatalog(mock)
	}

	var llm string
	switch cfg.InferenceProvider {
	case "ollama":
		// An explicit choice is honored even if the server is not up yet;
		// the worker handshake will report it.
		o := inference.NewOllamaProvider(inference.OllamaConfig{URL: cfg.OllamaURL, Model: cfg.OllamaModel}, logger)
		p.Generator = o
		p.Models = inference.NewCatalog(o)
		p.WorkerModels = []inference.Model{{ID: o.Model(), Category: inference.CategoryLanguage}}
		llm = "ollama " + o.Model()
	case "gemini":
		if err := useGemini(); err != nil {
			return Providers{}, err
		}
		llm = "gemini " + cfg.GeminiModel
	case "mock":
		useMock()
		llm = "mock"
	case "auto", "":
		switch {
		case tryOllama():
			llm = "ollama " + cfg.OllamaModel
		case cfg.GeminiAPIKey != "":
			if err := useGemini(); err != nil {
				return Providers{}, err
			}
			llm = "gemini " + cfg.GeminiModel
		default:
			useMock()
			llm = "mock (ollama unreachable, no gemini key)"
		}
	default:
		return Providers{}, fmt.Errorf("invalid INFERENCE_PROVIDER: %q", cfg.InferenceProvider)
	}

	stt, err := resolveTranscriber(cfg, logger, mock)
	if err != nil {
		return Providers{}, err
	}
	tts, err := resolveSynthesizer(cfg, logger, mock)
	if err != nil {
		return Providers{}, err
	}
	p.Transcriber, p.Synthesizer = stt.impl, tts.impl
	p.Detail = fmt.Sprintf("llm=%s stt=%s tts=%s", llm, stt.name, tts.name)
	return p, nil
}

type transcriberChoice struct {
	impl inference.Transcriber
	name string
}

func resolveTranscriber(cfg config.Config, logger zerolog.Logger, mock *inference.MockProvider) (transcriberChoice, error) {
	switch cfg.STTProvider {
	case "mock":
		return transcriberChoice{mock, "mock"}, nil
	case "whisper", "auto", "":
		w, err := inference.NewWhisperTranscriber(inference.WhisperConfig{CLI: cfg.WhisperCLI, ModelPath: cfg.WhisperModelPath}, logger)
		if err == nil {
			return transcriberChoice{w, "whisper"}, nil
		}
		if cfg.STTProvider == "whisper" {
			return transcriberChoice{}, fmt.Errorf("whisper transcriber init failed: %w", err)
		}
		logger.Warn().Err(err).Msg("whisper unavailable, using mock speech recognition")
		return transcriberChoice{mock, "mock (whisper unavailable)"}, nil
	default:
		return transcriberChoice{}, fmt.Errorf("invalid STT_PROVIDER: %q", cfg.STTProvider)
	}
}

type synthesizerChoice struct {
	impl inference.Synthesizer
	name string
}

func resolveSynthesizer(cfg config.Config, logger zerolog.Logger, mock *inference.MockProvider) (synthesizerChoice, error) {
	switch cfg.TTSProvider {
	case "mock":
		return synthesizerChoice{mock, "mock"}, nil
	case "piper", "auto", "":
		s, err := inference.NewPiperSynthesizer(inference.PiperConfig{
			BinaryPath:   cfg.PiperPath,
			ModelDir:     cfg.PiperModelDir,
			DefaultModel: cfg.TTSEnModel,
		}, logger)
		if err == nil {
			return synthesizerChoice{s, "piper"}, nil
		}
		if cfg.TTSProvider == "piper" {
			return synthesizerChoice{}, fmt.Errorf("piper synthesizer init failed: %w", err)
		}
		logger.Warn().Err(err).Msg("piper unavailable, using mock speech synthesis")
		return synthesizerChoice{mock, "mock (piper unavailable)"}, nil
	default:
		return synthesizerChoice{}, fmt.Errorf("invalid TTS_PROVIDER: %q", cfg.TTSProvider)
	}
}

// SpeechModels is the downloadable speech model catalog. Piper voices are
// listed without URLs; they are installed with Piper itself.
func SpeechModels(cfg config.Config) *inference.Catalog {
	c := inference.NewCatalog(inference.FileBackend{Dir: cfg.ModelDir})
	whisperFile := cfg.WhisperModelPath
	if !filepath.IsAbs(whisperFile) {
		whisperFile, _ = filepath.Abs(whisperFile)
	}
	c.RegisterModels([]inference.Model{
		{ID: "whisper-base", Category: inference.CategorySTT, URL: WhisperBaseURL, File: whisperFile},
		{ID: cfg.TTSEnModel, Category: inference.CategoryTTS, File: inference.PiperModelFile(absDir(cfg.PiperModelDir), cfg.TTSEnModel)},
		{ID: cfg.TTSHiModel, Category: inference.CategoryTTS, File: inference.PiperModelFile(absDir(cfg.PiperModelDir), cfg.TTSHiModel)},
	})
	return c
}

func absDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func hostPort(rawURL, defaultPort string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func isTCPListening(addr string, timeout time.Duration) bool {
	if strings.TrimSpace(addr) == "" {
		return false
	}
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

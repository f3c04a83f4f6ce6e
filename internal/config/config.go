package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutor service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool
	ExposeWorker   bool

	LogLevel  string
	LogFormat string

	InferenceProvider string
	OllamaURL         string
	OllamaModel       string
	GeminiAPIKey      string
	GeminiModel       string

	WorkerMode           string
	WorkerURL            string
	WorkerBindAddr       string
	WorkerInitTimeout    time.Duration
	WorkerRequestTimeout time.Duration

	GenerationTimeout time.Duration
	QuizTimeout       time.Duration
	QuizWorkerTimeout time.Duration

	VoiceStageTimeout        time.Duration
	VoiceSilenceTimeout      time.Duration
	VoiceMaxRecording        time.Duration
	VoiceSessionTimeout      time.Duration
	VoiceFirstAttemptTimeout time.Duration
	VoiceVADThreshold        float64

	STTProvider      string
	WhisperCLI       string
	WhisperModelPath string

	TTSProvider   string
	PiperPath     string
	PiperModelDir string
	TTSEnModel    string
	TTSHiModel    string

	ModelDir string

	StoreBackend string
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string
	RedisTTL     time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "vaani"),
		LogLevel:          strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(envOrDefault("LOG_FORMAT", "console")),
		InferenceProvider: strings.ToLower(envOrDefault("INFERENCE_PROVIDER", "auto")),
		OllamaURL:         envOrDefault("OLLAMA_URL", "http://localhost:11434"),
		// Small instruct model that keeps first-token latency low on laptops.
		OllamaModel:      envOrDefault("OLLAMA_MODEL", "qwen2.5:1.5b-instruct"),
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		WorkerMode:       strings.ToLower(envOrDefault("WORKER_MODE", "inprocess")),
		WorkerURL:        envOrDefault("WORKER_URL", "ws://localhost:8090/ws"),
		WorkerBindAddr:   envOrDefault("WORKER_BIND_ADDR", ":8090"),
		STTProvider:      strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),
		WhisperCLI:       envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath: envOrDefault("WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		TTSProvider:      strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		PiperPath:        envOrDefault("PIPER_PATH", "piper"),
		PiperModelDir:    envOrDefault("PIPER_MODEL_DIR", ".models/piper"),
		TTSEnModel:       envOrDefault("TTS_EN_MODEL", "vits-piper-en_US-lessac-medium"),
		TTSHiModel:       envOrDefault("TTS_HI_MODEL", "vits-piper-hi_IN-swara-medium"),
		ModelDir:         envOrDefault("MODEL_DIR", ".models"),
		StoreBackend:     strings.ToLower(envOrDefault("STORE_BACKEND", "memory")),
		SQLitePath:       envOrDefault("SQLITE_PATH", "vaani.db"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		RedisURL:         stringsTrimSpace("REDIS_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		WorkerInitTimeout:        180 * time.Second,
		WorkerRequestTimeout:     30 * time.Second,
		GenerationTimeout:        120 * time.Second,
		QuizTimeout:              7 * time.Second,
		QuizWorkerTimeout:        20 * time.Second,
		VoiceStageTimeout:        120 * time.Second,
		VoiceSilenceTimeout:      1200 * time.Millisecond,
		VoiceMaxRecording:        20 * time.Second,
		VoiceSessionTimeout:      45 * time.Second,
		VoiceFirstAttemptTimeout: 10 * time.Second,
		VoiceVADThreshold:        0.01,
		RedisTTL:                 30 * 24 * time.Hour,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"WORKER_INIT_TIMEOUT", &cfg.WorkerInitTimeout},
		{"WORKER_REQUEST_TIMEOUT", &cfg.WorkerRequestTimeout},
		{"GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"QUIZ_TIMEOUT", &cfg.QuizTimeout},
		{"QUIZ_WORKER_TIMEOUT", &cfg.QuizWorkerTimeout},
		{"VOICE_STAGE_TIMEOUT", &cfg.VoiceStageTimeout},
		{"VOICE_SILENCE_TIMEOUT", &cfg.VoiceSilenceTimeout},
		{"VOICE_MAX_RECORDING", &cfg.VoiceMaxRecording},
		{"VOICE_SESSION_TIMEOUT", &cfg.VoiceSessionTimeout},
		{"VOICE_FIRST_ATTEMPT_TIMEOUT", &cfg.VoiceFirstAttemptTimeout},
		{"REDIS_TTL", &cfg.RedisTTL},
	}
	var err error
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ExposeWorker, err = boolFromEnv("APP_EXPOSE_WORKER", cfg.ExposeWorker)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceVADThreshold, err = floatFromEnv("VOICE_VAD_THRESHOLD", cfg.VoiceVADThreshold)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"WORKER_INIT_TIMEOUT", c.WorkerInitTimeout},
		{"WORKER_REQUEST_TIMEOUT", c.WorkerRequestTimeout},
		{"GENERATION_TIMEOUT", c.GenerationTimeout},
		{"QUIZ_TIMEOUT", c.QuizTimeout},
		{"QUIZ_WORKER_TIMEOUT", c.QuizWorkerTimeout},
		{"VOICE_STAGE_TIMEOUT", c.VoiceStageTimeout},
		{"VOICE_SILENCE_TIMEOUT", c.VoiceSilenceTimeout},
		{"VOICE_MAX_RECORDING", c.VoiceMaxRecording},
		{"VOICE_SESSION_TIMEOUT", c.VoiceSessionTimeout},
		{"VOICE_FIRST_ATTEMPT_TIMEOUT", c.VoiceFirstAttemptTimeout},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
	}
	if c.VoiceVADThreshold <= 0 || c.VoiceVADThreshold >= 1 {
		return fmt.Errorf("VOICE_VAD_THRESHOLD must be in (0, 1)")
	}
	if !oneOf(c.InferenceProvider, "auto", "ollama", "gemini", "mock") {
		return fmt.Errorf("invalid INFERENCE_PROVIDER: %q (expected auto|ollama|gemini|mock)", c.InferenceProvider)
	}
	if c.InferenceProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("INFERENCE_PROVIDER=gemini but GEMINI_API_KEY is not set")
	}
	if !oneOf(c.WorkerMode, "inprocess", "remote", "disabled") {
		return fmt.Errorf("invalid WORKER_MODE: %q (expected inprocess|remote|disabled)", c.WorkerMode)
	}
	if !oneOf(c.STTProvider, "auto", "whisper", "mock") {
		return fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|whisper|mock)", c.STTProvider)
	}
	if !oneOf(c.TTSProvider, "auto", "piper", "mock") {
		return fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|piper|mock)", c.TTSProvider)
	}
	switch c.StoreBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("STORE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %q (expected memory|sqlite|postgres|redis)", c.StoreBackend)
	}
	if !oneOf(c.LogFormat, "console", "json") {
		return fmt.Errorf("invalid LOG_FORMAT: %q (expected console|json)", c.LogFormat)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

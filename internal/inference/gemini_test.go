package inference

import "testing"

func TestGeminiConfigLeavesUnsetSamplingToModel(t *testing.T) {
	cfg := geminiConfig(GenerateOptions{})
	if cfg.Temperature != nil {
		t.Fatalf("Temperature = %v, want nil", *cfg.Temperature)
	}
	if cfg.TopP != nil {
		t.Fatalf("TopP = %v, want nil", *cfg.TopP)
	}
	if cfg.MaxOutputTokens != 0 || cfg.SystemInstruction != nil {
		t.Fatalf("config = %+v, want no token limit or system instruction", cfg)
	}
}

func TestGeminiConfigCarriesOptions(t *testing.T) {
	cfg := geminiConfig(GenerateOptions{
		SystemPrompt:  "  be brief  ",
		MaxTokens:     128,
		Temperature:   0.5,
		TopP:          0.9,
		StopSequences: []string{"User:"},
	})
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Fatalf("Temperature = %v, want 0.5", cfg.Temperature)
	}
	if cfg.TopP == nil || *cfg.TopP != float32(0.9) {
		t.Fatalf("TopP = %v, want 0.9", cfg.TopP)
	}
	if cfg.MaxOutputTokens != 128 {
		t.Fatalf("MaxOutputTokens = %d, want 128", cfg.MaxOutputTokens)
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "User:" {
		t.Fatalf("StopSequences = %v, want [User:]", cfg.StopSequences)
	}
	sys := cfg.SystemInstruction
	if sys == nil || len(sys.Parts) != 1 || sys.Parts[0].Text != "be brief" {
		t.Fatalf("SystemInstruction = %+v, want %q", sys, "be brief")
	}
}

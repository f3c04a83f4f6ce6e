package inference

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/audio"
)

// maxPiperChars bounds a single synthesis; longer text is cut at a word.
const maxPiperChars = 500

// PiperConfig configures the Piper TTS CLI.
type PiperConfig struct {
	BinaryPath string
	ModelDir   string
	// DefaultModel is used when SynthesisOptions.ModelID is empty.
	DefaultModel string
}

// PiperSynthesizer runs Piper with a per-language ONNX voice.
type PiperSynthesizer struct {
	binaryPath string
	modelDir   string
	defModel   string
	logger     zerolog.Logger
}

func NewPiperSynthesizer(cfg PiperConfig, logger zerolog.Logger) (*PiperSynthesizer, error) {
	bin := strings.TrimSpace(cfg.BinaryPath)
	if bin == "" {
		bin = "piper"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("piper binary not found (%s)", bin)
	}
	return &PiperSynthesizer{
		binaryPath: path,
		modelDir:   cfg.ModelDir,
		defModel:   cfg.DefaultModel,
		logger:     logger.With().Str("provider", "piper-tts").Logger(),
	}, nil
}

// PiperModelFile maps a voice id like "vits-piper-en_US-lessac-medium" to
// its ONNX file under dir.
func PiperModelFile(dir, modelID string) string {
	name := strings.TrimPrefix(strings.TrimSpace(modelID), "vits-piper-")
	if !strings.HasSuffix(name, ".onnx") {
		name += ".onnx"
	}
	return filepath.Join(dir, name)
}

func (p *PiperSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesisOptions) (Speech, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return Speech{}, fmt.Errorf("empty text")
	}
	if len(text) > maxPiperChars {
		cut := strings.LastIndexByte(text[:maxPiperChars], ' ')
		if cut <= 0 {
			cut = maxPiperChars
		}
		text = text[:cut]
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = p.defModel
	}
	modelPath := PiperModelFile(p.modelDir, modelID)
	if _, err := os.Stat(modelPath); err != nil {
		return Speech{}, fmt.Errorf("piper model not found: %s", modelPath)
	}

	tmp, err := os.CreateTemp("", "vaani-piper-*.wav")
	if err != nil {
		return Speech{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{"--model", modelPath, "-f", tmpPath}
	if opts.Speed > 0 && opts.Speed != 1 {
		args = append(args, "--length_scale", fmt.Sprintf("%.2f", 1/opts.Speed))
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, p.binaryPath, args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Speech{}, ctxErr
		}
		p.logger.Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("piper failed")
		return Speech{}, fmt.Errorf("piper command failed: %w", err)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return Speech{}, fmt.Errorf("read audio file: %w", err)
	}
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return Speech{}, err
	}
	if rate <= 0 {
		rate = audio.DefaultPlaybackRate
	}
	p.logger.Debug().
		Str("model", modelID).
		Int("samples", len(samples)).
		Dur("elapsed", time.Since(start)).
		Msg("synthesis complete")
	return Speech{Samples: samples, SampleRate: rate}, nil
}

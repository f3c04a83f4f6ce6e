package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/audio"
)

// WhisperConfig configures the whisper.cpp CLI transcriber.
type WhisperConfig struct {
	CLI       string
	ModelPath string
	// Threads of 0 picks a value from the CPU count.
	Threads  int
	BeamSize int
	BestOf   int
}

// WhisperTranscriber shells out to whisper.cpp for each utterance.
type WhisperTranscriber struct {
	cliPath   string
	modelPath string
	threads   int
	beamSize  int
	bestOf    int
	logger    zerolog.Logger
}

func NewWhisperTranscriber(cfg WhisperConfig, logger zerolog.Logger) (*WhisperTranscriber, error) {
	cli := strings.TrimSpace(cfg.CLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}
	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper.cpp model not found: %s", modelPath)
	}

	threads := cfg.Threads
	if threads < 0 {
		return nil, fmt.Errorf("whisper threads must be >= 0")
	}
	if threads == 0 {
		threads = min(max(runtime.NumCPU(), 2), 8)
	}
	beam := cfg.BeamSize
	if beam <= 0 {
		beam = 1
	}
	bestOf := cfg.BestOf
	if bestOf <= 0 {
		bestOf = 1
	}
	return &WhisperTranscriber{
		cliPath:   cliPath,
		modelPath: modelPath,
		threads:   threads,
		beamSize:  beam,
		bestOf:    bestOf,
		logger:    logger.With().Str("provider", "whisper").Logger(),
	}, nil
}

// Transcribe writes the samples to a temporary WAV and reads back the text
// output of the CLI.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, opts TranscribeOptions) (Transcript, error) {
	if len(samples) == 0 {
		return Transcript{}, nil
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = "auto"
	}

	tmpDir, err := os.MkdirTemp("", "vaani-whisper-*")
	if err != nil {
		return Transcript{}, err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := audio.WriteWAVFile(wavPath, samples, rate); err != nil {
		return Transcript{}, err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", lang,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(w.threads),
		"-bs", strconv.Itoa(w.beamSize),
		"-bo", strconv.Itoa(w.bestOf),
	}
	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Transcript{}, context.Canceled
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Transcript{}, fmt.Errorf("whisper.cpp timed out; use a smaller model or a shorter utterance")
		}
		detail := strings.TrimSpace(stderr.String())
		// The CLI is chatty; keep the tail.
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return Transcript{}, fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return Transcript{}, err
	}
	text := strings.Join(strings.Fields(string(b)), " ")
	w.logger.Debug().Int("samples", len(samples)).Int("chars", len(text)).Msg("transcribed")
	return Transcript{Text: text, Language: lang}, nil
}

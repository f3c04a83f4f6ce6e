// Package inference defines the model capabilities the tutor consumes and
// ships the concrete local and hosted backends behind them.
package inference

import (
	"context"
	"errors"
)

// ErrEmptyPrompt is returned when generation is requested without a prompt.
var ErrEmptyPrompt = errors.New("empty prompt")

// GenerateOptions controls a single text generation.
type GenerateOptions struct {
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	StopSequences []string
	ContextLength int
}

// TokenHandler receives streamed tokens in order. Returning an error stops
// the stream and is returned from GenerateStream.
type TokenHandler func(token string) error

// Generation is the final result of a stream.
type Generation struct {
	Text string
}

// Generator streams text completions.
type Generator interface {
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onToken TokenHandler) (Generation, error)
}

// TranscribeOptions controls speech recognition.
type TranscribeOptions struct {
	Language   string // "auto" lets the model detect it
	SampleRate int
}

// Transcript is the result of speech recognition.
type Transcript struct {
	Text     string
	Language string
}

// Transcriber converts mono float32 audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, opts TranscribeOptions) (Transcript, error)
}

// SynthesisOptions selects the voice model and speaking rate.
type SynthesisOptions struct {
	ModelID string
	Speed   float64
}

// Speech is synthesized mono audio.
type Speech struct {
	Samples    []float32
	SampleRate int
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (Speech, error)
}

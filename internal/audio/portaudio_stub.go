//go:build !portaudio

package audio

import (
	"context"
	"errors"
)

// ErrNoAudioDevice is returned when the binary was built without PortAudio.
var ErrNoAudioDevice = errors.New("built without portaudio support (rebuild with -tags portaudio)")

// MicrophoneAvailable reports whether this binary can open the default input.
func MicrophoneAvailable() bool { return false }

// PortAudioCapture is unavailable in this build.
type PortAudioCapture struct{}

// NewMicrophoneCapture always fails in this build.
func NewMicrophoneCapture() (*PortAudioCapture, error) { return nil, ErrNoAudioDevice }

func (c *PortAudioCapture) Start(func([]float32), func(float64)) error { return ErrNoAudioDevice }

func (c *PortAudioCapture) Stop() error { return nil }

// SpeakerPlayer is unavailable in this build.
type SpeakerPlayer struct{}

// NewSpeakerPlayer always fails in this build.
func NewSpeakerPlayer() (*SpeakerPlayer, error) { return nil, ErrNoAudioDevice }

func (p *SpeakerPlayer) Play(context.Context, []float32, int) error { return ErrNoAudioDevice }

//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// FramesPerBuffer is the PortAudio buffer size used for capture and playback.
const FramesPerBuffer = 1024

var (
	paOnce sync.Once
	paErr  error
)

func initPortAudio() error {
	paOnce.Do(func() {
		paErr = portaudio.Initialize()
	})
	return paErr
}

// MicrophoneAvailable reports whether this binary can open the default input.
func MicrophoneAvailable() bool { return true }

// PortAudioCapture records mono 16 kHz audio from the default input device.
type PortAudioCapture struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []float32
	running bool
	done    chan struct{}
}

// NewMicrophoneCapture opens the PortAudio host API.
func NewMicrophoneCapture() (*PortAudioCapture, error) {
	if err := initPortAudio(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortAudioCapture{buffer: make([]float32, FramesPerBuffer)}, nil
}

// Start opens the default input stream and delivers chunks until Stop.
func (c *PortAudioCapture) Start(onChunk func([]float32), onLevel func(float64)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, FramesPerBuffer, c.buffer)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start microphone: %w", err)
	}
	c.stream = stream
	c.running = true
	c.done = make(chan struct{})
	go c.readLoop(stream, onChunk, onLevel, c.done)
	return nil
}

func (c *PortAudioCapture) readLoop(stream *portaudio.Stream, onChunk func([]float32), onLevel func(float64), done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}
		if err := stream.Read(); err != nil {
			continue
		}
		chunk := make([]float32, len(c.buffer))
		copy(chunk, c.buffer)
		onChunk(chunk)
		if onLevel != nil {
			onLevel(RMS(chunk))
		}
	}
}

// Stop halts recording and closes the stream. Safe to call repeatedly.
func (c *PortAudioCapture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stream, done := c.stream, c.done
	c.stream = nil
	c.mu.Unlock()

	err := stream.Stop()
	<-done
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	return err
}

// SpeakerPlayer plays mono float32 audio on the default output device.
type SpeakerPlayer struct{}

// NewSpeakerPlayer opens the PortAudio host API.
func NewSpeakerPlayer() (*SpeakerPlayer, error) {
	if err := initPortAudio(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &SpeakerPlayer{}, nil
}

// Play blocks until samples are played or ctx ends.
func (p *SpeakerPlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = DefaultPlaybackRate
	}
	buf := make([]float32, FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start speaker: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, samples[off:])
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write speaker: %w", err)
		}
	}
	return nil
}

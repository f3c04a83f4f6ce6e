package audio

import (
	"errors"
	"sync"
)

// ErrCaptureClosed is returned when starting a capture that was stopped for good.
var ErrCaptureClosed = errors.New("audio capture closed")

// StreamCapture is a capture fed by an external source, such as PCM frames
// arriving over a websocket. Samples pushed while no consumer is started are
// dropped.
type StreamCapture struct {
	mu      sync.Mutex
	onChunk func([]float32)
	onLevel func(float64)
	closed  bool
}

// NewStreamCapture returns an idle stream capture.
func NewStreamCapture() *StreamCapture {
	return &StreamCapture{}
}

// Start attaches the consumer callbacks. onLevel may be nil.
func (c *StreamCapture) Start(onChunk func([]float32), onLevel func(float64)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCaptureClosed
	}
	c.onChunk = onChunk
	c.onLevel = onLevel
	return nil
}

// Stop detaches the consumer. It is safe to call repeatedly.
func (c *StreamCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChunk = nil
	c.onLevel = nil
	return nil
}

// Close stops the capture and rejects future starts.
func (c *StreamCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.onChunk = nil
	c.onLevel = nil
	return nil
}

// Push delivers samples to the attached consumer, if any. It reports whether
// a consumer received them.
func (c *StreamCapture) Push(samples []float32) bool {
	c.mu.Lock()
	onChunk, onLevel := c.onChunk, c.onLevel
	c.mu.Unlock()
	if onChunk == nil {
		return false
	}
	onChunk(samples)
	if onLevel != nil {
		onLevel(RMS(samples))
	}
	return true
}

// PushPCM16LE converts and pushes little-endian PCM16 audio.
func (c *StreamCapture) PushPCM16LE(pcm []byte) bool {
	return c.Push(PCM16LEToFloat32(pcm))
}

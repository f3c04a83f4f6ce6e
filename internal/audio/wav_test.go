package audio

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25, -1}
	data, err := EncodeWAV(in, 22050)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(data) != 44+len(in)*2 {
		t.Fatalf("wav length = %d, want %d", len(data), 44+len(in)*2)
	}
	out, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("rate = %d, want 22050", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("samples = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1.0/16384 {
			t.Fatalf("sample %d = %v, want ~%v", i, out[i], in[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("DecodeWAV() error = %v, want ErrInvalidWAV", err)
	}
}

func TestStreamCapturePushesOnlyWhileStarted(t *testing.T) {
	c := NewStreamCapture()
	if c.Push([]float32{0.1}) {
		t.Fatalf("Push() before Start delivered samples")
	}
	var got int
	var level float64
	if err := c.Start(func(s []float32) { got += len(s) }, func(l float64) { level = l }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.PushPCM16LE(Float32ToPCM16LE([]float32{0.5, -0.5})) {
		t.Fatalf("PushPCM16LE() after Start = false")
	}
	if got != 2 {
		t.Fatalf("delivered samples = %d, want 2", got)
	}
	if level < 0.49 || level > 0.51 {
		t.Fatalf("level = %v, want ~0.5", level)
	}
	_ = c.Stop()
	if c.Push([]float32{0.1}) {
		t.Fatalf("Push() after Stop delivered samples")
	}
	_ = c.Close()
	if err := c.Start(func([]float32) {}, nil); !errors.Is(err, ErrCaptureClosed) {
		t.Fatalf("Start() after Close error = %v, want ErrCaptureClosed", err)
	}
}

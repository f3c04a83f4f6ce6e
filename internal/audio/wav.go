package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidWAV is returned when a WAV payload cannot be decoded.
var ErrInvalidWAV = errors.New("invalid wav payload")

// EncodeWAV wraps mono float32 samples in a PCM16 WAV container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, Float32ToPCM16LE(samples), sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes mono float32 samples as a PCM16 WAV file.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVTo(f, Float32ToPCM16LE(samples), sampleRate)
}

// WriteWAVTo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVTo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	dataSize := uint32(len(pcm))
	w := bufio.NewWriter(out)

	header := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(audioFormat), uint16(numChannels),
		uint32(sampleRate), uint32(sampleRate * numChannels * bitsPerSample / 8),
		uint16(numChannels * bitsPerSample / 8), uint16(bitsPerSample),
		[]byte("data"), dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAV reads a PCM16 WAV payload into mono float32 samples. Multi-channel
// audio is down-mixed by averaging.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrInvalidWAV
	}

	var (
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		haveFmt       bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Some encoders write a bogus size for a streamed data chunk.
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("%w: unsupported format %d", ErrInvalidWAV, format)
			}
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			if bitsPerSample != 16 || channels == 0 {
				return nil, 0, fmt.Errorf("%w: unsupported %d-bit %d-channel audio", ErrInvalidWAV, bitsPerSample, channels)
			}
			mono := PCM16LEToFloat32(data[body : body+size])
			if channels > 1 {
				mono = downmix(mono, int(channels))
			}
			return mono, int(sampleRate), nil
		}
		pos = body + size + size%2
	}
	return nil, 0, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

func downmix(interleaved []float32, channels int) []float32 {
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

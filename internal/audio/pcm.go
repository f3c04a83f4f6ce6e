package audio

import (
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the capture rate expected by VAD and STT.
	SampleRate = 16000
	// MinSpeechSamples is the shortest segment worth transcribing (~100ms at 16 kHz).
	MinSpeechSamples = 1600
	// DefaultPlaybackRate is assumed when a synthesizer reports no rate.
	DefaultPlaybackRate = 22050
)

// Float32ToPCM16LE converts [-1, 1] samples to little-endian signed 16-bit PCM.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// PCM16LEToFloat32 converts little-endian signed 16-bit PCM to [-1, 1] samples.
// A trailing odd byte is ignored.
func PCM16LEToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// RMS returns the root-mean-square energy of a chunk.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

package audio

import (
	"sync"
	"testing"
)

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

type activityRecorder struct {
	mu     sync.Mutex
	events []SpeechActivity
}

func (r *activityRecorder) record(a SpeechActivity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, a)
}

func (r *activityRecorder) snapshot() []SpeechActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SpeechActivity(nil), r.events...)
}

func newTestVAD() *EnergyVAD {
	return NewEnergyVAD(VADConfig{Threshold: 0.05, SmoothingFrames: 1, HangoverMs: 100, PaddingMs: 50, SampleRate: SampleRate})
}

func TestEnergyVADEmitsStartAndEnd(t *testing.T) {
	v := newTestVAD()
	rec := &activityRecorder{}
	unsub := v.OnSpeechActivity(rec.record)
	defer unsub()

	v.ProcessSamples(tone(800, 0))
	v.ProcessSamples(tone(1600, 0.5))
	v.ProcessSamples(tone(1600, 0.5))
	// 100ms hangover at 16 kHz is 1600 samples of silence.
	v.ProcessSamples(tone(1000, 0))
	v.ProcessSamples(tone(1000, 0))

	got := rec.snapshot()
	if len(got) != 2 || got[0] != SpeechStarted || got[1] != SpeechEnded {
		t.Fatalf("events = %v, want [started ended]", got)
	}

	seg := v.PopSpeechSegment()
	if seg == nil {
		t.Fatalf("PopSpeechSegment() = nil, want segment")
	}
	// padding (800) + speech (3200) + trailing silence until hangover (2000)
	if len(seg.Samples) != 6000 {
		t.Fatalf("segment samples = %d, want 6000", len(seg.Samples))
	}
	if seg.SampleRate != SampleRate {
		t.Fatalf("segment rate = %d, want %d", seg.SampleRate, SampleRate)
	}
	if v.PopSpeechSegment() != nil {
		t.Fatalf("second PopSpeechSegment() returned data, want nil")
	}
}

func TestEnergyVADPopIncludesSpeechInProgress(t *testing.T) {
	v := newTestVAD()
	v.ProcessSamples(tone(1600, 0.5))
	if !v.Active() {
		t.Fatalf("Active() = false after loud chunk")
	}
	seg := v.PopSpeechSegment()
	if seg == nil || len(seg.Samples) != 1600 {
		t.Fatalf("segment = %+v, want 1600 in-progress samples", seg)
	}
	if v.Active() {
		t.Fatalf("Active() = true after pop")
	}
}

func TestEnergyVADSilenceOnlyYieldsNoSegment(t *testing.T) {
	v := newTestVAD()
	for i := 0; i < 10; i++ {
		v.ProcessSamples(tone(1024, 0.001))
	}
	if seg := v.PopSpeechSegment(); seg != nil {
		t.Fatalf("PopSpeechSegment() = %d samples, want nil", len(seg.Samples))
	}
}

func TestEnergyVADUnsubscribeAndReset(t *testing.T) {
	v := newTestVAD()
	rec := &activityRecorder{}
	unsub := v.OnSpeechActivity(rec.record)
	unsub()
	unsub()

	v.ProcessSamples(tone(1600, 0.5))
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("events after unsubscribe = %v, want none", got)
	}
	v.Reset()
	if v.Active() {
		t.Fatalf("Active() = true after Reset")
	}
	if seg := v.PopSpeechSegment(); seg != nil {
		t.Fatalf("PopSpeechSegment() after Reset = %d samples, want nil", len(seg.Samples))
	}
}

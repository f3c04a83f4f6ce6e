package audio

import (
	"sync"
)

// SpeechActivity is a VAD transition.
type SpeechActivity int

const (
	SpeechStarted SpeechActivity = iota + 1
	SpeechEnded
)

func (a SpeechActivity) String() string {
	switch a {
	case SpeechStarted:
		return "started"
	case SpeechEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Segment is the audio collected between speech start and end.
type Segment struct {
	Samples    []float32
	SampleRate int
}

// VADConfig holds energy VAD tuning.
type VADConfig struct {
	Threshold       float64 // smoothed RMS at or above this is speech
	SmoothingFrames int     // chunks averaged for the smoothed RMS
	HangoverMs      int     // trailing silence before speech is declared ended
	PaddingMs       int     // audio kept from before speech start
	SampleRate      int
}

// DefaultVADConfig returns defaults tuned for 16 kHz microphone input.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:       0.01,
		SmoothingFrames: 5,
		HangoverMs:      300,
		PaddingMs:       200,
		SampleRate:      SampleRate,
	}
}

// EnergyVAD detects speech with RMS energy analysis and buffers the speech
// segments it finds. It is safe for concurrent use; listeners are invoked
// outside the internal lock on the goroutine calling ProcessSamples.
type EnergyVAD struct {
	cfg VADConfig

	mu        sync.Mutex
	history   []float64
	histIdx   int
	active    bool
	silent    int
	preroll   []float32
	current   []float32
	completed []float32
	listeners map[int]func(SpeechActivity)
	nextID    int
}

// NewEnergyVAD creates a VAD; zero fields in cfg take defaults.
func NewEnergyVAD(cfg VADConfig) *EnergyVAD {
	def := DefaultVADConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SmoothingFrames <= 0 {
		cfg.SmoothingFrames = def.SmoothingFrames
	}
	if cfg.HangoverMs <= 0 {
		cfg.HangoverMs = def.HangoverMs
	}
	if cfg.PaddingMs < 0 {
		cfg.PaddingMs = 0
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	return &EnergyVAD{
		cfg:       cfg,
		history:   make([]float64, cfg.SmoothingFrames),
		listeners: make(map[int]func(SpeechActivity)),
	}
}

// Reset clears detection state and buffered audio. Listeners stay registered.
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.history {
		v.history[i] = 0
	}
	v.histIdx = 0
	v.active = false
	v.silent = 0
	v.preroll = nil
	v.current = nil
	v.completed = nil
}

// OnSpeechActivity registers fn and returns its unsubscribe func.
func (v *EnergyVAD) OnSpeechActivity(fn func(SpeechActivity)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.listeners, id)
			v.mu.Unlock()
		})
	}
}

// ProcessSamples analyzes one chunk of mono samples.
func (v *EnergyVAD) ProcessSamples(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	v.mu.Lock()
	v.history[v.histIdx] = RMS(chunk)
	v.histIdx = (v.histIdx + 1) % len(v.history)
	var sum float64
	for _, e := range v.history {
		sum += e
	}
	speech := sum/float64(len(v.history)) >= v.cfg.Threshold

	var event SpeechActivity
	switch {
	case speech && !v.active:
		v.active = true
		v.silent = 0
		v.current = append(append([]float32(nil), v.preroll...), chunk...)
		v.preroll = nil
		event = SpeechStarted
	case speech:
		v.silent = 0
		v.current = append(v.current, chunk...)
	case v.active:
		v.current = append(v.current, chunk...)
		v.silent += len(chunk)
		if v.silent >= v.cfg.HangoverMs*v.cfg.SampleRate/1000 {
			v.active = false
			v.silent = 0
			v.completed = append(v.completed, v.current...)
			v.current = nil
			event = SpeechEnded
		}
	default:
		v.preroll = appendTail(v.preroll, chunk, v.cfg.PaddingMs*v.cfg.SampleRate/1000)
	}

	var listeners []func(SpeechActivity)
	if event != 0 {
		listeners = make([]func(SpeechActivity), 0, len(v.listeners))
		for _, fn := range v.listeners {
			listeners = append(listeners, fn)
		}
	}
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// PopSpeechSegment returns every completed segment plus any speech still in
// progress, then clears them. It returns nil when nothing was captured.
func (v *EnergyVAD) PopSpeechSegment() *Segment {
	v.mu.Lock()
	defer v.mu.Unlock()
	samples := append(v.completed, v.current...)
	v.completed = nil
	v.current = nil
	if v.active {
		v.active = false
		v.silent = 0
	}
	if len(samples) == 0 {
		return nil
	}
	return &Segment{Samples: samples, SampleRate: v.cfg.SampleRate}
}

// Active reports whether speech is currently in progress.
func (v *EnergyVAD) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func appendTail(buf, chunk []float32, max int) []float32 {
	if max <= 0 {
		return nil
	}
	buf = append(buf, chunk...)
	if len(buf) > max {
		buf = append([]float32(nil), buf[len(buf)-max:]...)
	}
	return buf
}

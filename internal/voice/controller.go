// Package voice runs push-to-talk tutoring sessions: VAD gated recording,
// speech recognition, response generation with a reduced-context retry and
// spoken playback.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/audio"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/inference"
	"github.com/ent0n29/vaani/internal/logging"
	"github.com/ent0n29/vaani/internal/reliability"
	"github.com/ent0n29/vaani/internal/tutor"
)

var (
	ErrSessionActive = errors.New("voice session already active")
	ErrNoSpeech      = reliability.NewError("no speech detected, please try again", "no_speech")
	ErrNoTranscript  = reliability.NewError("didn't catch that, try again", "no_transcript")
	ErrEmptyResponse = reliability.NewError("empty AI response", "empty")
	errStopped       = errors.New("voice session stopped")
)

// State is the controller's position in a session.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	default:
		return "idle"
	}
}

// Capture delivers microphone chunks until stopped.
type Capture interface {
	Start(onChunk func([]float32), onLevel func(float64)) error
	Stop() error
}

// VAD is the voice activity detector a session listens through.
type VAD interface {
	Reset()
	OnSpeechActivity(fn func(audio.SpeechActivity)) (unsubscribe func())
	ProcessSamples(chunk []float32)
	PopSpeechSegment() *audio.Segment
}

// Responder produces the tutor reply. tutor.Orchestrator implements it.
type Responder interface {
	GenerateResponse(ctx context.Context, utterance string, history []conversation.Message, onToken func(accumulated string), hint tutor.Language) (tutor.Response, error)
}

// Clip is one synthesized segment ready for playback.
type Clip struct {
	Samples    []float32
	SampleRate int
	Language   string // "en" or "hi"
}

// Player plays or ships a clip and returns when it is done.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, clip Clip) error

func (f PlayerFunc) Play(ctx context.Context, clip Clip) error { return f(ctx, clip) }

// StageRecorder observes per-stage latency.
type StageRecorder interface {
	ObserveStage(stage string, d time.Duration)
}

// Deps are the collaborators of a Controller. Synthesizer and Player may be
// nil, which disables speech output.
type Deps struct {
	Capture     func() (Capture, error)
	VAD         VAD
	Transcriber inference.Transcriber
	Responder   Responder
	Synthesizer inference.Synthesizer
	Player      Player
	Stages      StageRecorder
	Logger      zerolog.Logger
}

type Config struct {
	SilenceTimeout time.Duration
	MaxRecording   time.Duration
	SessionTimeout time.Duration
	StageTimeout   time.Duration
	Retry          RetryPolicy
	EnglishVoice   string
	HindiVoice     string
}

func DefaultConfig() Config {
	return Config{
		SilenceTimeout: 1200 * time.Millisecond,
		MaxRecording:   20 * time.Second,
		SessionTimeout: 45 * time.Second,
		StageTimeout:   120 * time.Second,
		Retry:          DefaultRetryPolicy(),
		EnglishVoice:   "vits-piper-en_US-lessac-medium",
		HindiVoice:     "vits-piper-hi_IN-swara-medium",
	}
}

// StartConfig describes one session.
type StartConfig struct {
	History    []conversation.Message
	TTSEnabled bool
	Observer   Observer
}

// Controller runs at most one session at a time.
type Controller struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	active *session
}

type session struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	obs    Observer

	mu        sync.Mutex
	capture   Capture
	unsubVAD  func()
	finish    func()
	recording atomic.Bool
}

// stopRecording stops capture and drops the VAD subscription. Idempotent.
func (s *session) stopRecording() {
	s.recording.Store(false)
	s.mu.Lock()
	capture, unsub := s.capture, s.unsubVAD
	s.capture, s.unsubVAD = nil, nil
	s.mu.Unlock()
	if capture != nil {
		_ = capture.Stop()
	}
	if unsub != nil {
		unsub()
	}
}

func NewController(deps Deps, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = def.MaxRecording
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = def.StageTimeout
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = def.Retry
	}
	if cfg.EnglishVoice == "" {
		cfg.EnglishVoice = def.EnglishVoice
	}
	if cfg.HindiVoice == "" {
		cfg.HindiVoice = def.HindiVoice
	}
	return &Controller{deps: deps, cfg: cfg, logger: deps.Logger}
}

// Start begins a session. The controller is Listening when Start returns
// nil; the pipeline continues on its own goroutine.
func (c *Controller) Start(sc StartConfig) error {
	c.mu.Lock()
	if c.active != nil {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn().Str("state", state.String()).Msg("voice session already active, ignoring start")
		return ErrSessionActive
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	obs := sc.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	s := &session{ctx: ctx, cancel: cancel, obs: obs}
	c.active = s
	c.state = StateListening
	c.mu.Unlock()

	go c.run(s, sc)
	return nil
}

// Stop cancels the active session, if any. No further callbacks fire for it.
// The session's capture is detached before another Start can begin.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.active
	c.active = nil
	c.state = StateIdle
	if s == nil {
		return
	}
	s.cancel(errStopped)
	s.stopRecording()
	s.mu.Lock()
	s.finish = nil
	s.mu.Unlock()
}

// FinishListening ends recording early, as if silence had been detected.
// It does nothing unless the controller is listening.
func (c *Controller) FinishListening() {
	c.mu.Lock()
	s := c.active
	listening := c.state == StateListening
	c.mu.Unlock()
	if s == nil || !listening {
		return
	}
	s.mu.Lock()
	finish := s.finish
	s.mu.Unlock()
	if finish != nil {
		finish()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsActive() bool { return c.State() != StateIdle }

func (c *Controller) setState(s *session, st State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != s {
		return false
	}
	c.state = st
	return true
}

// release returns the controller to Idle if s is still the active session.
func (c *Controller) release(s *session) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// emit invokes fn unless the session was cancelled. Observer panics are
// logged and swallowed.
func (c *Controller) emit(s *session, name string, fn func(Observer)) {
	if s.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("callback", name).Msg("voice observer panicked")
		}
	}()
	fn(s.obs)
}

func (c *Controller) observeStage(stage string, start time.Time) {
	if c.deps.Stages != nil {
		c.deps.Stages.ObserveStage(stage, time.Since(start))
	}
}

func (c *Controller) run(s *session, sc StartConfig) {
	defer s.cancel(nil)
	defer s.stopRecording()

	if err := c.pipeline(s, sc); err != nil {
		c.release(s)
		if s.ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("voice session failed")
		c.emit(s, "OnError", func(o Observer) { o.OnError(err) })
		return
	}
	c.release(s)
	c.emit(s, "OnComplete", func(o Observer) { o.OnComplete() })
}

func (c *Controller) pipeline(s *session, sc StartConfig) error {
	samples, err := c.listen(s)
	if err != nil {
		return err
	}

	if !c.setState(s, StateProcessing) {
		return errStopped
	}
	c.emit(s, "OnTranscribing", func(o Observer) { o.OnTranscribing() })
	start := time.Now()
	transcript, err := reliability.RunWithTimeout(s.ctx, c.cfg.StageTimeout, "STT", func(ctx context.Context) (inference.Transcript, error) {
		return c.deps.Transcriber.Transcribe(ctx, samples, inference.TranscribeOptions{Language: "auto", SampleRate: audio.SampleRate})
	})
	c.observeStage("stt", start)
	if s.ctx.Err() != nil {
		return errStopped
	}
	if err != nil {
		return fmt.Errorf("speech recognition failed: %w", err)
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return ErrNoTranscript
	}
	lang := tutor.DetectLanguage(text)
	c.logger.Debug().Str("text", logging.Redact(text, 120)).Str("language", string(lang)).Msg("transcribed")
	c.emit(s, "OnTranscription", func(o Observer) { o.OnTranscription(text, lang) })

	if !c.setState(s, StateResponding) {
		return errStopped
	}
	c.emit(s, "OnThinking", func(o Observer) { o.OnThinking() })
	onToken := func(acc string) {
		c.emit(s, "OnResponseToken", func(o Observer) { o.OnResponseToken(acc) })
	}
	start = time.Now()
	resp, err := c.cfg.Retry.Run(s.ctx, sc.History, func(ctx context.Context, history []conversation.Message) (tutor.Response, error) {
		return c.deps.Responder.GenerateResponse(ctx, text, history, onToken, lang)
	})
	c.observeStage("llm", start)
	if s.ctx.Err() != nil {
		return errStopped
	}
	if err != nil {
		return err
	}
	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		return ErrEmptyResponse
	}
	c.emit(s, "OnResponseComplete", func(o Observer) { o.OnResponseComplete(reply, resp.Teaching) })

	if sc.TTSEnabled && c.deps.Synthesizer != nil && c.deps.Player != nil {
		c.emit(s, "OnSpeaking", func(o Observer) { o.OnSpeaking() })
		start = time.Now()
		if err := c.speak(s, reply, resp.Teaching); err != nil && s.ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("speech output failed")
		}
		c.observeStage("tts", start)
	}
	if s.ctx.Err() != nil {
		return errStopped
	}
	return nil
}

// listen records until silence, the recording cap, the session timeout, a
// manual finish or cancellation, and returns the captured speech.
func (c *Controller) listen(s *session) ([]float32, error) {
	capture, err := c.deps.Capture()
	if err != nil {
		return nil, fmt.Errorf("open audio capture: %w", err)
	}
	vad := c.deps.VAD

	events := make(chan audio.SpeechActivity, 64)
	finishCh := make(chan struct{})
	var finishOnce sync.Once

	// Capture and VAD are shared across sessions. A session stopped before
	// it got here must not touch them, and Stop waits on s.mu, so a start
	// in progress finishes before Stop detaches it.
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, errStopped
	}
	vad.Reset()
	s.capture = capture
	s.unsubVAD = vad.OnSpeechActivity(func(a audio.SpeechActivity) {
		select {
		case events <- a:
		default:
		}
	})
	s.finish = func() { finishOnce.Do(func() { close(finishCh) }) }
	s.recording.Store(true)
	err = capture.Start(
		func(chunk []float32) {
			if s.recording.Load() && s.ctx.Err() == nil {
				vad.ProcessSamples(chunk)
			}
		},
		func(level float64) {
			if s.recording.Load() {
				c.emit(s, "OnAudioLevel", func(o Observer) { o.OnAudioLevel(level) })
			}
		},
	)
	s.mu.Unlock()
	if err != nil {
		s.stopRecording()
		return nil, fmt.Errorf("start audio capture: %w", err)
	}
	if s.ctx.Err() != nil {
		s.stopRecording()
		return nil, errStopped
	}
	c.emit(s, "OnListening", func(o Observer) { o.OnListening() })

	sessionTimer := time.NewTimer(c.cfg.SessionTimeout)
	defer sessionTimer.Stop()
	var silence, maxRec *time.Timer
	defer func() {
		if silence != nil {
			silence.Stop()
		}
		if maxRec != nil {
			maxRec.Stop()
		}
	}()
	timerC := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}

	var reason string
	for reason == "" {
		select {
		case <-s.ctx.Done():
			s.stopRecording()
			return nil, errStopped
		case <-finishCh:
			reason = "manual finish"
		case <-sessionTimer.C:
			reason = "session timeout"
		case <-timerC(maxRec):
			reason = "max recording"
		case <-timerC(silence):
			reason = "silence"
		case a := <-events:
			switch a {
			case audio.SpeechStarted:
				if silence != nil {
					silence.Stop()
					silence = nil
				}
				if maxRec == nil {
					maxRec = time.NewTimer(c.cfg.MaxRecording)
				}
			case audio.SpeechEnded:
				if silence != nil {
					silence.Stop()
				}
				silence = time.NewTimer(c.cfg.SilenceTimeout)
			}
		}
	}

	s.stopRecording()
	c.logger.Debug().Str("reason", reason).Msg("recording finished")
	seg := vad.PopSpeechSegment()
	if seg == nil || len(seg.Samples) < audio.MinSpeechSamples {
		return nil, ErrNoSpeech
	}
	return seg.Samples, nil
}

type spokenPart struct {
	text     string
	voice    string
	language string
}

// speak synthesizes and plays the reply. Structured replies speak the
// English sentence with the English voice and then the Hindi explanation
// with the Hindi voice.
func (c *Controller) speak(s *session, reply string, teaching tutor.Teaching) error {
	var parts []spokenPart
	if resp, ok := tutor.AsResponse(teaching); ok {
		if en := resp.SpokenEnglish(); en != "" {
			parts = append(parts, spokenPart{en, c.cfg.EnglishVoice, "en"})
		}
		if hi := strings.TrimSpace(resp.HindiExplanation); hi != "" {
			parts = append(parts, spokenPart{hi, c.cfg.HindiVoice, "hi"})
		}
	} else if en := ExtractEnglishForTTS(reply); en != "" {
		parts = append(parts, spokenPart{en, c.cfg.EnglishVoice, "en"})
	}

	for _, p := range parts {
		for _, segment := range splitSpeech(sanitizeSpeechText(p.text)) {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			speech, err := reliability.RunWithTimeout(s.ctx, c.cfg.StageTimeout, "TTS", func(ctx context.Context) (inference.Speech, error) {
				return c.deps.Synthesizer.Synthesize(ctx, segment, inference.SynthesisOptions{ModelID: p.voice, Speed: 1.0})
			})
			if err != nil {
				return err
			}
			if len(speech.Samples) == 0 || s.ctx.Err() != nil {
				continue
			}
			rate := speech.SampleRate
			if rate <= 0 {
				rate = audio.DefaultPlaybackRate
			}
			if err := c.deps.Player.Play(s.ctx, Clip{Samples: speech.Samples, SampleRate: rate, Language: p.language}); err != nil {
				return err
			}
		}
	}
	return nil
}

package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/vaani/internal/audio"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/protocol"
	"github.com/ent0n29/vaani/internal/reliability"
	"github.com/ent0n29/vaani/internal/session"
	"github.com/ent0n29/vaani/internal/tutor"
	"github.com/ent0n29/vaani/internal/voice"
)

// voiceConn runs one websocket client's voice controller. Audio arrives as
// audio_chunk messages and feeds a StreamCapture; controller callbacks and
// synthesized clips go back out as protocol messages.
type voiceConn struct {
	s         *Server
	ctx       context.Context
	sessionID string
	outbound  chan<- any
	capture   *audio.StreamCapture
	ctrl      *voice.Controller

	mu       sync.Mutex
	turn     *voiceTurn
	audioSeq int
}

func (s *Server) runVoiceConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) {
	vc := &voiceConn{
		s:         s,
		ctx:       ctx,
		sessionID: sess.ID,
		outbound:  outbound,
		capture:   audio.NewStreamCapture(),
	}

	vadCfg := audio.DefaultVADConfig()
	if s.cfg.VoiceVADThreshold > 0 {
		vadCfg.Threshold = s.cfg.VoiceVADThreshold
	}
	deps := voice.Deps{
		Capture:     func() (voice.Capture, error) { return vc.capture, nil },
		VAD:         audio.NewEnergyVAD(vadCfg),
		Transcriber: s.deps.Transcriber,
		Responder:   s.deps.Tutor,
		Synthesizer: s.deps.Synthesizer,
		Player:      vc,
		Logger:      s.logger.With().Str("session_id", sess.ID).Logger(),
	}
	if s.metrics != nil {
		deps.Stages = s.metrics
	}
	vc.ctrl = voice.NewController(deps, s.deps.Voice)
	defer func() {
		vc.ctrl.Stop()
		_ = vc.capture.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			vc.handle(msg)
		}
	}
}

func (vc *voiceConn) handle(msg any) {
	switch m := msg.(type) {
	case protocol.AudioChunk:
		if m.SessionID != vc.sessionID {
			vc.sendError("session_mismatch", false, errors.New("message for another session"))
			return
		}
		vc.pushAudio(m)
	case protocol.VoiceStart:
		if m.SessionID != vc.sessionID {
			vc.sendError("session_mismatch", false, errors.New("message for another session"))
			return
		}
		vc.start(m)
	case protocol.VoiceControl:
		if m.SessionID != vc.sessionID {
			vc.sendError("session_mismatch", false, errors.New("message for another session"))
			return
		}
		switch m.Type {
		case protocol.TypeVoiceFinish:
			vc.ctrl.FinishListening()
			_ = vc.s.sessions.Touch(vc.sessionID)
		case protocol.TypeVoiceStop:
			if vc.ctrl.IsActive() {
				vc.ctrl.Stop()
				_ = vc.s.sessions.Interrupt(vc.sessionID)
			}
			vc.send(protocol.VoiceEvent{Type: protocol.TypeVoiceEvent, SessionID: vc.sessionID, Event: protocol.EventStopped}, false)
		}
	}
}

func (vc *voiceConn) pushAudio(m protocol.AudioChunk) {
	if m.SampleRate != audio.SampleRate {
		vc.sendError("unsupported_sample_rate", false, fmt.Errorf("sample_rate must be %d, got %d", audio.SampleRate, m.SampleRate))
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
	if err != nil {
		vc.sendError("invalid_audio", false, err)
		return
	}
	// Chunks outside a listening phase have no consumer and are dropped.
	vc.capture.PushPCM16LE(pcm)
}

func (vc *voiceConn) start(m protocol.VoiceStart) {
	sess, err := vc.s.sessions.Get(vc.sessionID)
	if err != nil || sess.Status != session.StatusActive {
		vc.sendError("session_ended", false, session.ErrNotFound)
		return
	}
	tts := sess.TTSEnabled
	if m.TTSEnabled != nil {
		tts = *m.TTSEnabled
	}
	if tts != sess.TTSEnabled {
		_ = vc.s.sessions.SetTTS(vc.sessionID, tts)
	}

	var history []conversation.Message
	if sess.ConversationID != "" {
		history, err = vc.s.deps.Store.Recent(vc.ctx, sess.ConversationID, conversation.DefaultRecent)
		if err != nil {
			vc.s.logger.Warn().Err(err).Str("conversation_id", sess.ConversationID).Msg("loading history failed")
		}
	}

	if vc.ctrl.IsActive() {
		vc.sendError("session_active", true, voice.ErrSessionActive)
		return
	}
	turn := &voiceTurn{id: uuid.NewString(), vc: vc, conversationID: sess.ConversationID}
	vc.mu.Lock()
	vc.turn = turn
	vc.mu.Unlock()
	err = vc.ctrl.Start(voice.StartConfig{History: history, TTSEnabled: tts, Observer: turn})
	if errors.Is(err, voice.ErrSessionActive) {
		vc.sendError("session_active", true, err)
		return
	}
	if err != nil {
		vc.sendError(reliability.Classify(err), false, err)
		return
	}
	_ = vc.s.sessions.StartTurn(vc.sessionID, turn.id)
}

// Play implements voice.Player by sending each clip as a WAV frame.
func (vc *voiceConn) Play(ctx context.Context, clip voice.Clip) error {
	wav, err := audio.EncodeWAV(clip.Samples, clip.SampleRate)
	if err != nil {
		return err
	}
	vc.mu.Lock()
	vc.audioSeq++
	seq := vc.audioSeq
	turn := vc.turn
	vc.mu.Unlock()

	if turn != nil {
		turn.firstAudio.Do(func() {
			if vc.s.metrics != nil && !turn.speechEnded.IsZero() {
				vc.s.metrics.ObserveFirstAudioLatency(time.Since(turn.speechEnded))
			}
		})
	}

	msg := protocol.AssistantAudio{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   vc.sessionID,
		Seq:         seq,
		Language:    clip.Language,
		Format:      "wav",
		SampleRate:  clip.SampleRate,
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
	}
	select {
	case vc.outbound <- msg:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-vc.ctx.Done():
		return vc.ctx.Err()
	}
}

func (vc *voiceConn) send(msg any, droppable bool) {
	if droppable {
		select {
		case vc.outbound <- msg:
		default:
		}
		return
	}
	select {
	case vc.outbound <- msg:
	case <-vc.ctx.Done():
	}
}

func (vc *voiceConn) sendError(code string, retryable bool, err error) {
	vc.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: vc.sessionID,
		Code:      code,
		Retryable: retryable,
		Detail:    err.Error(),
	}, false)
}

func (vc *voiceConn) event(name string) {
	vc.send(protocol.VoiceEvent{Type: protocol.TypeVoiceEvent, SessionID: vc.sessionID, Event: name}, false)
}

// voiceTurn observes one controller session. Callbacks arrive in order on
// the controller goroutine.
type voiceTurn struct {
	id             string
	vc             *voiceConn
	conversationID string
	transcript     string
	speechEnded    time.Time
	firstAudio     sync.Once
}

func (t *voiceTurn) OnListening() { t.vc.event(protocol.EventListening) }

func (t *voiceTurn) OnAudioLevel(level float64) {
	t.vc.send(protocol.AudioLevel{Type: protocol.TypeAudioLevel, SessionID: t.vc.sessionID, Level: level}, true)
}

func (t *voiceTurn) OnTranscribing() {
	t.speechEnded = time.Now()
	t.vc.event(protocol.EventTranscribing)
}

func (t *voiceTurn) OnTranscription(text string, lang tutor.Language) {
	t.transcript = text
	t.vc.send(protocol.Transcription{
		Type:      protocol.TypeTranscription,
		SessionID: t.vc.sessionID,
		Text:      text,
		Language:  string(lang),
	}, false)
}

func (t *voiceTurn) OnThinking() { t.vc.event(protocol.EventThinking) }

func (t *voiceTurn) OnResponseToken(acc string) {
	t.vc.send(protocol.ResponseToken{Type: protocol.TypeResponseToken, SessionID: t.vc.sessionID, Text: acc}, false)
}

func (t *voiceTurn) OnResponseComplete(text string, teaching tutor.Teaching) {
	msg := protocol.ResponseComplete{Type: protocol.TypeResponseComplete, SessionID: t.vc.sessionID, Text: text}
	if parsed, ok := tutor.AsResponse(teaching); ok {
		msg.Parsed = parsed
	}
	t.vc.send(msg, false)
	t.persist(text)
}

func (t *voiceTurn) OnSpeaking() { t.vc.event(protocol.EventSpeaking) }

func (t *voiceTurn) OnComplete() {
	t.vc.event(protocol.EventComplete)
	_ = t.vc.s.sessions.FinishTurn(t.vc.sessionID, t.id)
}

func (t *voiceTurn) OnError(err error) {
	code := reliability.Classify(err)
	retryable := code == "timeout" || errors.Is(err, voice.ErrNoSpeech) || errors.Is(err, voice.ErrNoTranscript)
	t.vc.sendError(code, retryable, err)
	t.vc.s.observeProviderError("voice", err)
	_ = t.vc.s.sessions.FinishTurn(t.vc.sessionID, t.id)
}

// persist appends the turn to the session's conversation, creating one on
// the first turn.
func (t *voiceTurn) persist(reply string) {
	store := t.vc.s.deps.Store
	ctx := t.vc.ctx
	if t.conversationID == "" {
		conv, err := store.Create(ctx, "")
		if err != nil {
			t.vc.s.logger.Error().Err(err).Msg("creating conversation failed")
			return
		}
		t.conversationID = conv.ID
		_ = t.vc.s.sessions.SetConversation(t.vc.sessionID, conv.ID)
	}
	if err := t.vc.s.appendTurn(ctx, t.conversationID, t.transcript, reply); err != nil {
		t.vc.s.logger.Error().Err(err).Str("conversation_id", t.conversationID).Msg("saving voice turn failed")
	}
}

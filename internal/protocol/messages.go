package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies voice websocket payload variants.
type MessageType string

const (
	TypeVoiceStart  MessageType = "voice_start"
	TypeVoiceFinish MessageType = "voice_finish"
	TypeVoiceStop   MessageType = "voice_stop"
	TypeAudioChunk  MessageType = "audio_chunk"

	TypeVoiceEvent       MessageType = "voice_event"
	TypeAudioLevel       MessageType = "audio_level"
	TypeTranscription    MessageType = "transcription"
	TypeResponseToken    MessageType = "response_token"
	TypeResponseComplete MessageType = "response_complete"
	TypeAssistantAudio   MessageType = "assistant_audio"
	TypeErrorEvent       MessageType = "error_event"
)

// Voice event names carried by VoiceEvent.Event.
const (
	EventListening    = "listening"
	EventTranscribing = "transcribing"
	EventThinking     = "thinking"
	EventSpeaking     = "speaking"
	EventComplete     = "complete"
	EventStopped      = "stopped"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type VoiceStart struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	// TTSEnabled overrides the session default when set.
	TTSEnabled *bool `json:"tts_enabled,omitempty"`
}

// VoiceControl covers voice_finish and voice_stop.
type VoiceControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

type VoiceEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
}

type AudioLevel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     float64     `json:"level"`
}

type Transcription struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Language  string      `json:"language"`
}

type ResponseToken struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ResponseComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Parsed    any         `json:"parsed,omitempty"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Language    string      `json:"language"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	AudioBase64 string      `json:"audio_base64"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeVoiceStart:
		var msg VoiceStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid voice_start")
		}
		return msg, nil
	case TypeVoiceFinish, TypeVoiceStop:
		var msg VoiceControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("invalid %s", env.Type)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

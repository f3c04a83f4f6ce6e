package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(AudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want AudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageVoiceStart(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"voice_start","session_id":"s1","tts_enabled":false}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	start, ok := msg.(VoiceStart)
	if !ok {
		t.Fatalf("message type = %T, want VoiceStart", msg)
	}
	if start.TTSEnabled == nil || *start.TTSEnabled {
		t.Fatalf("TTSEnabled = %v, want explicit false", start.TTSEnabled)
	}
}

func TestParseClientMessageControls(t *testing.T) {
	for _, typ := range []MessageType{TypeVoiceFinish, TypeVoiceStop} {
		msg, err := ParseClientMessage([]byte(`{"type":"` + string(typ) + `","session_id":"s1"}`))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", typ, err)
		}
		control, ok := msg.(VoiceControl)
		if !ok || control.Type != typ {
			t.Fatalf("ParseClientMessage(%s) = %#v", typ, msg)
		}
	}
}

func TestParseClientMessageRequiresSession(t *testing.T) {
	cases := []string{
		`{"type":"voice_start"}`,
		`{"type":"voice_stop"}`,
		`{"type":"audio_chunk","session_id":"s1","pcm16_base64":"","sample_rate":16000}`,
		`{"type":"audio_chunk","session_id":"s1","pcm16_base64":"AQID","sample_rate":0}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil, want error", raw)
		}
	}
}

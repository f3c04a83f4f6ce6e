package voice

import (
	"errors"
	"testing"
	"time"
)

func TestEventStreamClosesAfterTerminalEvent(t *testing.T) {
	s := NewEventStream(8)
	s.OnListening()
	s.OnError(errors.New("boom"))
	s.OnComplete()

	var got []EventType
	for e := range s.Events() {
		got = append(got, e.Type)
	}
	if len(got) != 2 || got[0] != EventListening || got[1] != EventError {
		t.Fatalf("events = %v, want [listening error]", got)
	}
}

func TestEventStreamDropsAudioLevelsWhenFull(t *testing.T) {
	s := NewEventStream(1)
	s.OnAudioLevel(0.1)
	s.OnAudioLevel(0.2)

	e := <-s.Events()
	if e.Level != 0.1 {
		t.Fatalf("Level = %v, want 0.1", e.Level)
	}
	select {
	case e := <-s.Events():
		t.Fatalf("got %+v, want dropped level", e)
	default:
	}
}

func TestEventStreamCloseUnblocksSender(t *testing.T) {
	s := NewEventStream(1)
	s.OnListening()
	done := make(chan struct{})
	go func() {
		s.OnThinking()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	s.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sender still blocked after Close")
	}
}

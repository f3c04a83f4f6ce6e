package voice

import (
	"sync"

	"github.com/ent0n29/vaani/internal/tutor"
)

// Observer receives the progress of one voice session. Callbacks run on the
// session goroutine except OnAudioLevel, which runs on the capture goroutine.
type Observer interface {
	OnListening()
	OnAudioLevel(level float64)
	OnTranscribing()
	OnTranscription(text string, lang tutor.Language)
	OnThinking()
	OnResponseToken(accumulated string)
	OnResponseComplete(text string, teaching tutor.Teaching)
	OnSpeaking()
	OnComplete()
	OnError(err error)
}

// NopObserver ignores every callback. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnListening() {}

func (NopObserver) OnAudioLevel(float64) {}

func (NopObserver) OnTranscribing() {}

func (NopObserver) OnTranscription(string, tutor.Language) {}

func (NopObserver) OnThinking() {}

func (NopObserver) OnResponseToken(string) {}

func (NopObserver) OnResponseComplete(string, tutor.Teaching) {}

func (NopObserver) OnSpeaking() {}

func (NopObserver) OnComplete() {}

func (NopObserver) OnError(error) {}

type EventType string

const (
	EventListening        EventType = "listening"
	EventAudioLevel       EventType = "audio_level"
	EventTranscribing     EventType = "transcribing"
	EventTranscription    EventType = "transcription"
	EventThinking         EventType = "thinking"
	EventResponseToken    EventType = "response_token"
	EventResponseComplete EventType = "response_complete"
	EventSpeaking         EventType = "speaking"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Event is one observer callback as a value.
type Event struct {
	Type     EventType
	Text     string
	Language tutor.Language
	Level    float64
	Teaching tutor.Teaching
	Err      error
}

// EventStream is an Observer that forwards callbacks, in order, to a
// channel. The channel closes after OnComplete, OnError or Close. Audio
// levels are dropped when the buffer is full; other events wait for the
// consumer.
type EventStream struct {
	ch   chan Event
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func NewEventStream(buffer int) *EventStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventStream{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Events returns the receive side of the stream.
func (s *EventStream) Events() <-chan Event { return s.ch }

// Close unblocks pending senders and closes the channel. Safe to call more
// than once.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *EventStream) send(e Event, droppable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if droppable {
		select {
		case s.ch <- e:
		default:
		}
		return
	}
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

func (s *EventStream) OnListening() { s.send(Event{Type: EventListening}, false) }

func (s *EventStream) OnAudioLevel(l float64) {
	s.send(Event{Type: EventAudioLevel, Level: l}, true)
}

func (s *EventStream) OnTranscribing() { s.send(Event{Type: EventTranscribing}, false) }

func (s *EventStream) OnTranscription(text string, lang tutor.Language) {
	s.send(Event{Type: EventTranscription, Text: text, Language: lang}, false)
}

func (s *EventStream) OnThinking() { s.send(Event{Type: EventThinking}, false) }

func (s *EventStream) OnResponseToken(acc string) {
	s.send(Event{Type: EventResponseToken, Text: acc}, false)
}

func (s *EventStream) OnResponseComplete(text string, t tutor.Teaching) {
	s.send(Event{Type: EventResponseComplete, Text: text, Teaching: t}, false)
}

func (s *EventStream) OnSpeaking() { s.send(Event{Type: EventSpeaking}, false) }

func (s *EventStream) OnComplete() {
	s.send(Event{Type: EventComplete}, false)
	s.Close()
}

func (s *EventStream) OnError(err error) {
	s.send(Event{Type: EventError, Err: err}, false)
	s.Close()
}

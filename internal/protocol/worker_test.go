package protocol

import (
	"errors"
	"testing"
)

func TestParseWorkerMessage(t *testing.T) {
	msg, err := ParseWorkerMessage([]byte(`{"type":"TOKEN","id":"abc-1234","token":"lo","accumulated":"Hello"}`))
	if err != nil {
		t.Fatalf("ParseWorkerMessage() error = %v", err)
	}
	if msg.Type != WorkerToken || msg.Accumulated != "Hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := ParseWorkerMessage([]byte(`{"type":"INIT"}`)); err != nil {
		t.Fatalf("INIT without id error = %v", err)
	}
}

func TestParseWorkerMessageRejects(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`{"type":"DONE"}`, ErrInvalidWorkerMessage},
		{`{"type":"GENERATE","prompt":"x"}`, ErrInvalidWorkerMessage},
		{`{"type":"HELLO","id":"x"}`, ErrUnsupportedType},
		{`{`, ErrInvalidWorkerMessage},
	}
	for _, tc := range cases {
		_, err := ParseWorkerMessage([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Fatalf("ParseWorkerMessage(%s) error = %v, want %v", tc.raw, err, tc.want)
		}
	}
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WorkerMessageType identifies frames exchanged between the bridge and the
// worker host.
type WorkerMessageType string

const (
	WorkerInit         WorkerMessageType = "INIT"
	WorkerInitOK       WorkerMessageType = "INIT_OK"
	WorkerInitFail     WorkerMessageType = "INIT_FAIL"
	WorkerGenerate     WorkerMessageType = "GENERATE"
	WorkerGenerateQuiz WorkerMessageType = "GENERATE_QUIZ"
	WorkerToken        WorkerMessageType = "TOKEN"
	WorkerDone         WorkerMessageType = "DONE"
	WorkerError        WorkerMessageType = "ERROR"
	WorkerAbort        WorkerMessageType = "ABORT"
)

var ErrInvalidWorkerMessage = errors.New("invalid worker message")

// WorkerGenerateOptions overrides generation defaults on the worker side.
// Zero values keep the worker defaults.
type WorkerGenerateOptions struct {
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// WorkerMessage is the single frame shape; fields are populated per type.
type WorkerMessage struct {
	Type        WorkerMessageType      `json:"type"`
	ID          string                 `json:"id,omitempty"`
	Prompt      string                 `json:"prompt,omitempty"`
	Options     *WorkerGenerateOptions `json:"options,omitempty"`
	Token       string                 `json:"token,omitempty"`
	Accumulated string                 `json:"accumulated,omitempty"`
	Text        string                 `json:"text,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// RequiresID reports whether frames of this type must carry a request id.
func (t WorkerMessageType) RequiresID() bool {
	switch t {
	case WorkerGenerate, WorkerGenerateQuiz, WorkerToken, WorkerDone, WorkerError, WorkerAbort:
		return true
	default:
		return false
	}
}

func (t WorkerMessageType) known() bool {
	switch t {
	case WorkerInit, WorkerInitOK, WorkerInitFail,
		WorkerGenerate, WorkerGenerateQuiz,
		WorkerToken, WorkerDone, WorkerError, WorkerAbort:
		return true
	default:
		return false
	}
}

// Validate checks the fields each frame type depends on.
func (m WorkerMessage) Validate() error {
	if !m.Type.known() {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, m.Type)
	}
	if m.Type.RequiresID() && m.ID == "" {
		return fmt.Errorf("%w: %s without id", ErrInvalidWorkerMessage, m.Type)
	}
	return nil
}

// ParseWorkerMessage decodes and validates one frame.
func ParseWorkerMessage(raw []byte) (WorkerMessage, error) {
	var msg WorkerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return WorkerMessage{}, fmt.Errorf("%w: %v", ErrInvalidWorkerMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return WorkerMessage{}, err
	}
	return msg, nil
}

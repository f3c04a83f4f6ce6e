package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/vaani/internal/audio"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/inference"
	"github.com/ent0n29/vaani/internal/reliability"
	"github.com/ent0n29/vaani/internal/tutor"
)

// chatHistory is how many stored messages are handed to the orchestrator,
// which windows them further.
const chatHistory = conversation.DefaultRecent

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Language       string `json:"language"`
}

type chatResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Text           string                  `json:"text"`
	Parsed         *tutor.TeachingResponse `json:"parsed"`
	Language       tutor.Language          `json:"language"`
	Path           string                  `json:"path"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if s.deps.Tutor == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tutor not configured")
		return
	}
	ctx := r.Context()

	convID := strings.TrimSpace(req.ConversationID)
	var history []conversation.Message
	if convID == "" {
		conv, err := s.deps.Store.Create(ctx, "")
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		convID = conv.ID
	} else {
		var err error
		if history, err = s.deps.Store.Recent(ctx, convID, chatHistory); err != nil {
			s.respondStoreError(w, err)
			return
		}
	}

	hint := tutor.ParseLanguage(req.Language)
	if hint == "" {
		hint = tutor.DetectLanguage(message)
	}
	resp, err := s.deps.Tutor.GenerateResponse(ctx, message, history, nil, hint)
	if err != nil {
		s.respondGenerationError(w, err)
		return
	}

	if err := s.appendTurn(ctx, convID, message, resp.Text); err != nil {
		s.respondStoreError(w, err)
		return
	}

	out := chatResponse{ConversationID: convID, Text: resp.Text, Language: resp.Language, Path: resp.Path}
	if parsed, ok := tutor.AsResponse(resp.Teaching); ok {
		out.Parsed = &parsed
	}
	respondJSON(w, http.StatusOK, out)
}

// appendTurn stores a user message and the reply that answered it.
func (s *Server) appendTurn(ctx context.Context, convID, user, assistant string) error {
	if _, err := s.deps.Store.AppendMessage(ctx, convID, conversation.Message{Role: conversation.RoleUser, Content: user}); err != nil {
		return err
	}
	_, err := s.deps.Store.AppendMessage(ctx, convID, conversation.Message{Role: conversation.RoleAssistant, Content: assistant})
	return err
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.deps.Tutor == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tutor not configured")
		return
	}
	res, err := s.deps.Tutor.GenerateQuiz(r.Context(), strings.TrimSpace(req.Topic))
	if err != nil {
		s.respondGenerationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sentence string `json:"sentence"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sentence := strings.TrimSpace(req.Sentence)
	if sentence == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sentence is required")
		return
	}
	if s.deps.Tutor == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tutor not configured")
		return
	}
	res, err := s.deps.Tutor.GenerateFeedback(r.Context(), sentence)
	if err != nil {
		s.respondGenerationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDetectLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]tutor.Language{"language": tutor.DetectLanguage(req.Text)})
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// handleTTS synthesizes text with the voice for its language and returns a
// WAV file.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if s.deps.Synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech synthesis not configured")
		return
	}

	model := s.deps.Voice.EnglishVoice
	if strings.EqualFold(req.Language, "hi") || tutor.ParseLanguage(req.Language) == tutor.Hindi {
		model = s.deps.Voice.HindiVoice
	}
	speech, err := s.deps.Synthesizer.Synthesize(r.Context(), text, inference.SynthesisOptions{ModelID: model, Speed: 1.0})
	if err != nil {
		s.observeProviderError("tts", err)
		respondError(w, http.StatusBadGateway, reliability.Classify(err), err.Error())
		return
	}
	rate := speech.SampleRate
	if rate <= 0 {
		rate = audio.DefaultPlaybackRate
	}
	wav, err := audio.EncodeWAV(speech.Samples, rate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) respondGenerationError(w http.ResponseWriter, err error) {
	code := reliability.Classify(err)
	s.observeProviderError("llm", err)
	switch {
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, code, err.Error())
	case errors.Is(err, tutor.ErrGenerationTimeout) || reliability.IsTimeout(err):
		respondError(w, http.StatusGatewayTimeout, code, err.Error())
	default:
		respondError(w, http.StatusBadGateway, code, err.Error())
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("conversation store failed")
	respondError(w, http.StatusInternalServerError, "store_error", err.Error())
}

func (s *Server) observeProviderError(provider string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveProviderError(provider, err)
	}
}

// Package httpapi serves the tutor over HTTP and the voice session over a
// websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/config"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/inference"
	"github.com/ent0n29/vaani/internal/observability"
	"github.com/ent0n29/vaani/internal/protocol"
	"github.com/ent0n29/vaani/internal/session"
	"github.com/ent0n29/vaani/internal/tutor"
	"github.com/ent0n29/vaani/internal/voice"
)

// Tutor is the generation surface the API needs. tutor.Orchestrator
// implements it.
type Tutor interface {
	GenerateResponse(ctx context.Context, utterance string, history []conversation.Message, onToken func(accumulated string), hint tutor.Language) (tutor.Response, error)
	GenerateQuiz(ctx context.Context, topic string) (tutor.QuizResult, error)
	GenerateFeedback(ctx context.Context, sentence string) (tutor.FeedbackResult, error)
	WorkerAvailable() bool
}

// Deps are the collaborators built by the composition root. Transcriber and
// Synthesizer may be nil, which disables voice sessions and /v1/tts.
type Deps struct {
	Sessions    *session.Manager
	Store       conversation.Store
	Tutor       Tutor
	Transcriber inference.Transcriber
	Synthesizer inference.Synthesizer
	Metrics     *observability.Metrics
	Voice       voice.Config
	// Worker is mounted at /v1/worker/ws when APP_EXPOSE_WORKER is set.
	Worker http.Handler
	Logger zerolog.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(cfg.SessionInactivityTimeout)
	}
	if deps.Store == nil {
		deps.Store = conversation.NewMemoryStore()
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/quiz", s.handleQuiz)
		r.Post("/feedback", s.handleFeedback)
		r.Post("/language/detect", s.handleDetectLanguage)
		r.Post("/tts", s.handleTTS)

		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations", s.handleCreateConversation)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)

		r.Post("/voice/session", s.handleCreateSession)
		r.Post("/voice/session/{id}/end", s.handleEndSession)
		r.Get("/voice/session/ws", s.handleSessionWS)
		r.Get("/voice/stats", s.handleVoiceStats)

		if s.deps.Worker != nil && s.cfg.ExposeWorker {
			r.Handle("/worker/ws", s.deps.Worker)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady reports whether generation is served by the worker or by the
// direct provider. Both are ready; only the path differs.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	workerAvailable := s.deps.Tutor != nil && s.deps.Tutor.WorkerAvailable()
	status := "ready"
	if s.cfg.WorkerMode != "disabled" && !workerAvailable {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"worker_mode":      s.cfg.WorkerMode,
		"worker_available": workerAvailable,
		"store_backend":    s.cfg.StoreBackend,
		"stt_enabled":      s.deps.Transcriber != nil,
		"tts_enabled":      s.deps.Synthesizer != nil,
	})
}

func (s *Server) handleVoiceStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.NewVoiceTracker(1).Snapshot())
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.VoiceStats())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	ttsEnabled := s.deps.Synthesizer != nil
	if req.TTSEnabled != nil {
		ttsEnabled = *req.TTSEnabled
	}
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		if _, err := s.deps.Store.Get(r.Context(), id); err != nil {
			s.respondStoreError(w, err)
			return
		}
	}

	sess := s.sessions.Create(req.UserID, strings.TrimSpace(req.ConversationID), ttsEnabled)
	s.observeSessions("created")

	respondJSON(w, http.StatusCreated, session.NewCreateResponse(sess, s.sessions.InactivityTimeout()))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.observeSessions("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) observeSessions(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.deps.Tutor == nil || s.deps.Transcriber == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech recognition not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.observeSessions("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runVoiceConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.countWS("outbound_error", "write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.countWS("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Writes stay single-threaded; drop when the queue is saturated.
				s.countWS("outbound_drop", string(protocol.TypeErrorEvent))
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.countWS("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.observeSessions("ws_disconnected")
}

func (s *Server) countWS(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.VoiceStart:
		return m.Type, true
	case protocol.VoiceControl:
		return m.Type, true
	case protocol.AudioChunk:
		return m.Type, true
	case protocol.VoiceEvent:
		return m.Type, true
	case protocol.AudioLevel:
		return m.Type, true
	case protocol.Transcription:
		return m.Type, true
	case protocol.ResponseToken:
		return m.Type, true
	case protocol.ResponseComplete:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

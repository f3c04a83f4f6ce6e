package session

import "time"

// CreateRequest is the payload for opening a voice client session.
type CreateRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	TTSEnabled     *bool  `json:"tts_enabled"`
}

// CreateResponse returns the created session and its inactivity TTL.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	ConversationID  string    `json:"conversation_id"`
	TTSEnabled      bool      `json:"tts_enabled"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// NewCreateResponse describes s for the API.
func NewCreateResponse(s *Session, ttl time.Duration) CreateResponse {
	return CreateResponse{
		SessionID:       s.ID,
		UserID:          s.UserID,
		ConversationID:  s.ConversationID,
		TTSEnabled:      s.TTSEnabled,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
		InactivityTTLMS: ttl.Milliseconds(),
	}
}

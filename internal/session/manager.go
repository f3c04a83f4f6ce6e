package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the server-side handle for one voice client. A session may
// run many voice turns against the same conversation.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	TTSEnabled     bool      `json:"tts_enabled"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"active_turn_id"`
	TurnCount      int       `json:"turn_count"`
	StopCount      int       `json:"stop_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

// InactivityTimeout is how long a session may stay idle before the janitor
// ends it.
func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, conversationID string, ttsEnabled bool) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		TTSEnabled:     ttsEnabled,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// ByUser returns the active session last created for userID.
func (m *Manager) ByUser(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.sessions[id]), nil
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(s *Session) {})
}

// SetConversation binds the session to a conversation, typically after the
// first turn created one.
func (m *Manager) SetConversation(sessionID, conversationID string) error {
	return m.update(sessionID, func(s *Session) { s.ConversationID = conversationID })
}

func (m *Manager) SetTTS(sessionID string, enabled bool) error {
	return m.update(sessionID, func(s *Session) { s.TTSEnabled = enabled })
}

func (m *Manager) StartTurn(sessionID, turnID string) error {
	return m.update(sessionID, func(s *Session) {
		s.ActiveTurnID = turnID
		s.TurnCount++
	})
}

// FinishTurn clears turnID if it is still the active turn.
func (m *Manager) FinishTurn(sessionID, turnID string) error {
	return m.update(sessionID, func(s *Session) {
		if s.ActiveTurnID == turnID {
			s.ActiveTurnID = ""
		}
	})
}

// Interrupt records a user stop of the active turn.
func (m *Manager) Interrupt(sessionID string) error {
	return m.update(sessionID, func(s *Session) {
		s.StopCount++
		s.ActiveTurnID = ""
	})
}

func (m *Manager) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	m.endLocked(s, time.Now().UTC())
	return clone(s), nil
}

func (m *Manager) endLocked(s *Session, now time.Time) {
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = now
	if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
		delete(m.sessionByUser, s.UserID)
	}
}

// StartJanitor ends inactive sessions every interval and drops ended
// sessions once they have been idle for another inactivity period.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt)
		if s.Status == StatusEnded {
			if idle >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}

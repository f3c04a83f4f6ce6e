package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process. It is the default backend.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*Conversation),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newConversation(title, s.now())
	s.convs[c.ID] = &c
	s.pruneLocked()
	return clone(c), nil
}

func (s *MemoryStore) pruneLocked() {
	if len(s.convs) <= MaxConversations {
		return
	}
	all := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	for _, c := range all[MaxConversations:] {
		delete(s.convs, c.ID)
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return clone(*c), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		head := *c
		head.Messages = nil
		out = append(out, head)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return appendTo(c, msg, s.now()), nil
}

func (s *MemoryStore) UpdateLastAssistantMessage(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	updateLastAssistant(c, content, s.now())
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, id string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tail(c.Messages, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(c Conversation) Conversation {
	if c.Messages != nil {
		c.Messages = append([]Message(nil), c.Messages...)
	}
	return c
}

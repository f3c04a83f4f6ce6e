// Package conversation persists tutoring conversations as append-only
// message logs.
package conversation

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultTitle     = "New conversation"
	MaxConversations = 50
	// DefaultRecent is the message count Recent returns for a non-positive limit.
	DefaultRecent = 10

	titleRunes = 40
)

var ErrNotFound = errors.New("conversation not found")

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one utterance in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a titled message log. List results leave Messages empty.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is implemented by every backend.
type Store interface {
	Create(ctx context.Context, title string) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	// List returns conversations newest first, without messages.
	List(ctx context.Context) ([]Conversation, error)
	Delete(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, id string, msg Message) (Message, error)
	// UpdateLastAssistantMessage rewrites the latest assistant message. It is
	// a no-op when the conversation has none.
	UpdateLastAssistantMessage(ctx context.Context, id, content string) error
	// Recent returns the last limit messages in chronological order.
	Recent(ctx context.Context, id string, limit int) ([]Message, error)
	Close() error
}

// TitleFromMessage derives a title from the first user message.
func TitleFromMessage(content string) string {
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	return string([]rune(content)[:titleRunes]) + "…"
}

func newConversation(title string, now time.Time) Conversation {
	if title == "" {
		title = DefaultTitle
	}
	return Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func normalizeMessage(msg Message, now time.Time) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg
}

// retitle reports the title a conversation gets after msg is appended.
func retitle(current string, msg Message) string {
	if current == DefaultTitle && msg.Role == RoleUser && msg.Content != "" {
		return TitleFromMessage(msg.Content)
	}
	return current
}

// appendTo applies an append to an in-memory conversation value.
func appendTo(c *Conversation, msg Message, now time.Time) Message {
	msg = normalizeMessage(msg, now)
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	c.Title = retitle(c.Title, msg)
	return msg
}

func updateLastAssistant(c *Conversation, content string, now time.Time) bool {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			c.Messages[i].Content = content
			c.UpdatedAt = now
			return true
		}
	}
	return false
}

func tail(msgs []Message, limit int) []Message {
	if limit <= 0 {
		limit = DefaultRecent
	}
	if limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out
}

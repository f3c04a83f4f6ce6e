package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv ON conversation_messages (conversation_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, title string) (Conversation, error) {
	c := newConversation(title, s.now())
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, title, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			c.ID, c.Title, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM conversations WHERE id IN (
				SELECT id FROM conversations ORDER BY updated_at DESC OFFSET $1)`, MaxConversations,
		); err != nil {
			return fmt.Errorf("prune conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) header(ctx context.Context, q rowQuerier, id string, forUpdate bool) (Conversation, error) {
	query := `SELECT id, title, created_at, updated_at FROM conversations WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var c Conversation
	err := q.QueryRow(ctx, query, id).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) messages(ctx context.Context, id string, limit int) ([]Message, error) {
	query := `SELECT id, role, content, created_at FROM conversation_messages
		WHERE conversation_id=$1 ORDER BY seq DESC`
	args := []any{id}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := s.header(ctx, s.pool, id, false)
	if err != nil {
		return Conversation{}, err
	}
	if c.Messages, err = s.messages(ctx, id, 0); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	now := s.now()
	msg = normalizeMessage(msg, now)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := s.header(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, id, string(msg.Role), msg.Content, msg.Timestamp,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET title=$1, updated_at=$2 WHERE id=$3`,
			retitle(c.Title, msg), now, id,
		); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *PostgresStore) UpdateLastAssistantMessage(ctx context.Context, id, content string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.header(ctx, tx, id, true); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE conversation_messages SET content=$1 WHERE seq = (
				SELECT MAX(seq) FROM conversation_messages WHERE conversation_id=$2 AND role=$3)`,
			content, id, string(RoleAssistant),
		)
		if err != nil {
			return fmt.Errorf("update assistant message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at=$1 WHERE id=$2`, s.now(), id); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Recent(ctx context.Context, id string, limit int) ([]Message, error) {
	if _, err := s.header(ctx, s.pool, id, false); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecent
	}
	return s.messages(ctx, id, limit)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

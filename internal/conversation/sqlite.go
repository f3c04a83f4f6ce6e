package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversations in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite free of SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, title string) (Conversation, error) {
	c := newConversation(title, s.now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Title, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
	); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT -1 OFFSET ?)`, MaxConversations,
	); err != nil {
		return Conversation{}, fmt.Errorf("prune messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT -1 OFFSET ?)`, MaxConversations,
	); err != nil {
		return Conversation{}, fmt.Errorf("prune conversations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *SQLiteStore) header(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (Conversation, error) {
	var c Conversation
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return c, nil
}

func (s *SQLiteStore) messages(ctx context.Context, id string, limit int) ([]Message, error) {
	query := `SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`
	args := []any{id}
	if limit > 0 {
		query = `SELECT id, role, content, created_at FROM (
			SELECT seq, id, role, content, created_at FROM messages
			WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := s.header(ctx, s.db, id)
	if err != nil {
		return Conversation{}, err
	}
	c.Messages, err = s.messages(ctx, id, 0)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		c.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	now := s.now()
	msg = normalizeMessage(msg, now)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	c, err := s.header(ctx, tx, id)
	if err != nil {
		return Message{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, id, string(msg.Role), msg.Content, msg.Timestamp.UnixNano(),
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		retitle(c.Title, msg), now.UnixNano(), id,
	); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *SQLiteStore) UpdateLastAssistantMessage(ctx context.Context, id, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.header(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE seq = (
			SELECT MAX(seq) FROM messages WHERE conversation_id = ? AND role = ?)`,
		content, id, string(RoleAssistant),
	)
	if err != nil {
		return fmt.Errorf("update assistant message: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, s.now().UnixNano(), id,
		); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Recent(ctx context.Context, id string, limit int) ([]Message, error) {
	if _, err := s.header(ctx, s.db, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecent
	}
	return s.messages(ctx, id, limit)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

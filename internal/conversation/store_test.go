package conversation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock returns strictly increasing instants so ordering is deterministic.
func fakeClock() func() time.Time {
	var tick atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}
}

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			s.now = fakeClock()
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "conv", "vaani.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			s.now = fakeClock()
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			if err != nil {
				t.Fatalf("NewPostgresStore() error = %v", err)
			}
			if _, err := s.pool.Exec(context.Background(), `TRUNCATE conversations CASCADE`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			s.now = fakeClock()
			return s
		}
	}
	if url := os.Getenv("TEST_REDIS_URL"); url != "" {
		out["redis"] = func(t *testing.T) Store {
			s, err := NewRedisStore(context.Background(), url, time.Hour)
			if err != nil {
				t.Fatalf("NewRedisStore() error = %v", err)
			}
			if err := s.client.FlushDB(context.Background()).Err(); err != nil {
				t.Fatalf("flush: %v", err)
			}
			s.now = fakeClock()
			return s
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func TestCreateAppendAndTitle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, err := s.Create(ctx, "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if c.Title != DefaultTitle {
			t.Fatalf("Title = %q, want %q", c.Title, DefaultTitle)
		}

		long := strings.Repeat("a", 45)
		if _, err := s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: long}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		if _, err := s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: "second"}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}

		got, err := s.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		want := strings.Repeat("a", 40) + "…"
		if got.Title != want {
			t.Fatalf("Title = %q, want %q", got.Title, want)
		}
		if len(got.Messages) != 2 {
			t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
		}
		if got.Messages[0].ID == "" || got.Messages[0].Timestamp.IsZero() {
			t.Fatalf("message not normalized: %+v", got.Messages[0])
		}
		if !got.UpdatedAt.After(got.CreatedAt) {
			t.Fatalf("UpdatedAt = %v, want after %v", got.UpdatedAt, got.CreatedAt)
		}
	})
}

func TestAssistantMessageDoesNotRetitle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.Create(ctx, "")
		if _, err := s.AppendMessage(ctx, c.ID, Message{Role: RoleAssistant, Content: "Namaste!"}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		got, _ := s.Get(ctx, c.ID)
		if got.Title != DefaultTitle {
			t.Fatalf("Title = %q, want %q", got.Title, DefaultTitle)
		}
	})
}

func TestUpdateLastAssistantMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.Create(ctx, "lesson")

		if err := s.UpdateLastAssistantMessage(ctx, c.ID, "ignored"); err != nil {
			t.Fatalf("UpdateLastAssistantMessage() on empty log error = %v", err)
		}

		s.AppendMessage(ctx, c.ID, Message{Role: RoleAssistant, Content: "first"})
		s.AppendMessage(ctx, c.ID, Message{Role: RoleAssistant, Content: "draft"})
		s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: "thanks"})

		if err := s.UpdateLastAssistantMessage(ctx, c.ID, "final"); err != nil {
			t.Fatalf("UpdateLastAssistantMessage() error = %v", err)
		}
		got, _ := s.Get(ctx, c.ID)
		contents := []string{got.Messages[0].Content, got.Messages[1].Content, got.Messages[2].Content}
		want := []string{"first", "final", "thanks"}
		for i := range want {
			if contents[i] != want[i] {
				t.Fatalf("Messages[%d].Content = %q, want %q", i, contents[i], want[i])
			}
		}
	})
}

func TestRecentReturnsTailInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.Create(ctx, "count")
		for i := 0; i < 12; i++ {
			s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: string(rune('a' + i))})
		}

		got, err := s.Recent(ctx, c.ID, 3)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(got) != 3 || got[0].Content != "j" || got[2].Content != "l" {
			t.Fatalf("Recent(3) = %+v, want j..l", got)
		}

		got, _ = s.Recent(ctx, c.ID, 0)
		if len(got) != DefaultRecent {
			t.Fatalf("len(Recent(0)) = %d, want %d", len(got), DefaultRecent)
		}
		if got[0].Content != "c" {
			t.Fatalf("Recent(0)[0] = %q, want %q", got[0].Content, "c")
		}
	})
}

func TestListNewestFirstWithoutMessages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, _ := s.Create(ctx, "a")
		b, _ := s.Create(ctx, "b")
		s.AppendMessage(ctx, a.ID, Message{Role: RoleUser, Content: "bump"})

		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("len(List()) = %d, want 2", len(list))
		}
		if list[0].ID != a.ID || list[1].ID != b.ID {
			t.Fatalf("List() order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, a.ID, b.ID)
		}
		if len(list[0].Messages) != 0 {
			t.Fatalf("List() included %d messages, want none", len(list[0].Messages))
		}
	})
}

func TestCreatePrunesOldestConversations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first, _ := s.Create(ctx, "oldest")
		for i := 0; i < MaxConversations; i++ {
			if _, err := s.Create(ctx, "filler"); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}
		list, _ := s.List(ctx)
		if len(list) != MaxConversations {
			t.Fatalf("len(List()) = %d, want %d", len(list), MaxConversations)
		}
		if _, err := s.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(oldest) error = %v, want ErrNotFound", err)
		}
	})
}

func TestMissingConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
		if _, err := s.AppendMessage(ctx, "nope", Message{Role: RoleUser, Content: "x"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("AppendMessage() error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Delete() error = %v, want ErrNotFound", err)
		}
		if _, err := s.Recent(ctx, "nope", 5); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Recent() error = %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteRemovesMessages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.Create(ctx, "gone")
		s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: "hi"})
		if err := s.Delete(ctx, c.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, c.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
		}
	})
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, _ := s.Create(ctx, "copy")
	s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: "original"})

	got, _ := s.Get(ctx, c.ID)
	got.Messages[0].Content = "mutated"

	again, _ := s.Get(ctx, c.ID)
	if again.Messages[0].Content != "original" {
		t.Fatalf("stored content = %q, want %q", again.Messages[0].Content, "original")
	}
}

func TestTitleFromMessageCountsRunes(t *testing.T) {
	hindi := strings.Repeat("न", 41)
	got := TitleFromMessage(hindi)
	if want := strings.Repeat("न", 40) + "…"; got != want {
		t.Fatalf("TitleFromMessage() = %q, want %q", got, want)
	}
	if got := TitleFromMessage("short"); got != "short" {
		t.Fatalf("TitleFromMessage(short) = %q", got)
	}
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	if _, err := NewStore(context.Background(), "mongo"); err == nil {
		t.Fatalf("NewStore(mongo) error = nil, want error")
	}
	if _, err := NewStore(context.Background(), BackendPostgres); err == nil {
		t.Fatalf("NewStore(postgres) without url error = nil, want error")
	}
	s, err := NewStore(context.Background(), BackendMemory)
	if err != nil {
		t.Fatalf("NewStore(memory) error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("NewStore(memory) = %T, want *MemoryStore", s)
	}
}

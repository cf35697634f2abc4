package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func stores(t *testing.T) map[string]domain.HistoryStore {
	return map[string]domain.HistoryStore{
		"sqlite": newTestSQLite(t),
		"memory": NewMemoryStore(),
	}
}

func TestStoreAppendAndRecent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				err := store.Append(ctx, "c1",
					domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
					domain.ChatMessage{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i), Status: domain.StatusCompleted, SessionID: fmt.Sprintf("s%d", i)},
				)
				if err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			recent, err := store.Recent(ctx, "c1", 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(recent) != 3 {
				t.Fatalf("expected 3 messages, got %d", len(recent))
			}
			want := []string{"a3", "q4", "a4"}
			for i, m := range recent {
				if m.Content != want[i] {
					t.Errorf("recent[%d] = %q, want %q", i, m.Content, want[i])
				}
			}
			if recent[2].Status != domain.StatusCompleted || recent[2].SessionID != "s4" {
				t.Errorf("status/session not kept: %+v", recent[2])
			}
			if recent[0].Timestamp.IsZero() {
				t.Error("timestamp should be set")
			}

			all, err := store.Recent(ctx, "c1", 0)
			if err != nil {
				t.Fatalf("Recent all: %v", err)
			}
			if len(all) != 10 {
				t.Errorf("expected 10 messages, got %d", len(all))
			}
		})
	}
}

func TestStorePartialTurnsKeepStatus(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := store.Append(ctx, "c1",
				domain.ChatMessage{Role: domain.RoleUser, Content: "long story"},
				domain.ChatMessage{Role: domain.RoleAssistant, Content: "Once upon", Status: domain.StatusCancelled},
			)
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			msgs, _ := store.Recent(ctx, "c1", 10)
			if msgs[1].Status != domain.StatusCancelled || msgs[1].Content != "Once upon" {
				t.Errorf("partial message not kept: %+v", msgs[1])
			}
		})
	}
}

func TestStoreUnknownConversationIsEmpty(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			msgs, err := store.Recent(context.Background(), "nope", 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(msgs) != 0 {
				t.Errorf("expected no messages, got %d", len(msgs))
			}
		})
	}
}

func TestStoreConversations(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Append(ctx, "old", domain.ChatMessage{Role: domain.RoleUser, Content: "x"})
			store.Append(ctx, "new", domain.ChatMessage{Role: domain.RoleUser, Content: "y"}, domain.ChatMessage{Role: domain.RoleAssistant, Content: "z"})

			convs, err := store.Conversations(ctx)
			if err != nil {
				t.Fatalf("Conversations: %v", err)
			}
			if len(convs) != 2 {
				t.Fatalf("expected 2 conversations, got %d", len(convs))
			}
			if convs[0].ID != "new" || convs[0].MessageCount != 2 {
				t.Errorf("convs[0] = %+v", convs[0])
			}
			if convs[1].ID != "old" || convs[1].MessageCount != 1 {
				t.Errorf("convs[1] = %+v", convs[1])
			}
		})
	}
}

func TestStoreConversationUpdatedAtIsNewestMessage(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := base.Add(100 * time.Millisecond)
	second := base.Add(120 * time.Millisecond)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Append(ctx, "c1", domain.ChatMessage{Role: domain.RoleUser, Content: "a", Timestamp: first}); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.Append(ctx, "c1", domain.ChatMessage{Role: domain.RoleAssistant, Content: "b", Timestamp: second}); err != nil {
				t.Fatalf("Append: %v", err)
			}

			convs, err := store.Conversations(ctx)
			if err != nil {
				t.Fatalf("Conversations: %v", err)
			}
			if len(convs) != 1 {
				t.Fatalf("expected 1 conversation, got %d", len(convs))
			}
			if !convs[0].UpdatedAt.Equal(second) {
				t.Errorf("UpdatedAt = %v, want %v", convs[0].UpdatedAt, second)
			}

			msgs, err := store.Recent(ctx, "c1", 0)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(msgs) != 2 || !msgs[0].Timestamp.Equal(first) || !msgs[1].Timestamp.Equal(second) {
				t.Errorf("timestamps did not round-trip: %+v", msgs)
			}
		})
	}
}

func TestStoreRejectsEmptyConversationID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(context.Background(), "", domain.ChatMessage{Role: domain.RoleUser})
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Append(context.Background(), "c1", domain.ChatMessage{Role: domain.RoleUser, Content: "kept"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	msgs, err := reopened.Recent(context.Background(), "c1", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "kept" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestOpen(t *testing.T) {
	mem, err := Open(config.HistoryConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := mem.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", mem)
	}

	db, err := Open(config.HistoryConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	db.Close()

	if _, err := Open(config.HistoryConfig{Backend: "redis"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

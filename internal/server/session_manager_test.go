package server

import (
	"context"
	"testing"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/llm"
	"github.com/michaelbrown/scriptforge/internal/storage"
	"github.com/michaelbrown/scriptforge/internal/storage/sqlite"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: map[string]config.ProviderConfig{
			"test": {
				BaseURL: "http://localhost:11434/v1/",
				APIKey:  "test",
				Models:  map[string]string{"default": "test-model"},
			},
		},
		DefaultProvider: "test",
	}
}

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm := NewSessionManager()
	defer sm.CloseAll()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sess := &storage.Session{
		ID:       "test-session-1",
		Status:   storage.StatusActive,
		Provider: "test",
		Model:    "test-model",
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	// First call should create
	as1, err := sm.GetOrCreate(context.Background(), sess, testConfig(), store)
	if err != nil {
		t.Fatal(err)
	}
	if as1 == nil {
		t.Fatal("expected non-nil ActiveSession")
	}
	if as1.Client == nil {
		t.Fatal("expected non-nil Client")
	}
	if len(as1.Messages) != 1 || as1.Messages[0].Role != llm.RoleSystem {
		t.Errorf("fresh session should start with a system message, got %v", as1.Messages)
	}

	// Second call should return same instance
	as2, err := sm.GetOrCreate(context.Background(), sess, testConfig(), store)
	if err != nil {
		t.Fatal(err)
	}
	if as1 != as2 {
		t.Error("expected same ActiveSession instance on second call")
	}
}

func TestSessionManager_HydratesHistory(t *testing.T) {
	sm := NewSessionManager()
	defer sm.CloseAll()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sess := &storage.Session{ID: "hist-1", Status: storage.StatusActive, Provider: "test"}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	saved := []llm.Message{
		llm.SystemMessage("custom prompt"),
		llm.UserMessage("print hello"),
		llm.AssistantMessage("print('hello')"),
	}
	if err := store.SaveMessages(context.Background(), sess.ID, saved); err != nil {
		t.Fatal(err)
	}

	as, err := sm.GetOrCreate(context.Background(), sess, testConfig(), store)
	if err != nil {
		t.Fatal(err)
	}
	if len(as.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(as.Messages))
	}
	if as.Messages[0].Content != "custom prompt" {
		t.Errorf("history not restored: %v", as.Messages[0])
	}
}

func TestSessionManager_Remove(t *testing.T) {
	sm := NewSessionManager()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sess := &storage.Session{
		ID:       "test-session-2",
		Status:   storage.StatusActive,
		Provider: "test",
		Model:    "test-model",
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	if _, err := sm.GetOrCreate(context.Background(), sess, testConfig(), store); err != nil {
		t.Fatal(err)
	}

	if _, ok := sm.Get("test-session-2"); !ok {
		t.Error("expected session to exist")
	}

	sm.Remove("test-session-2")

	if _, ok := sm.Get("test-session-2"); ok {
		t.Error("expected session to be removed")
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	sm := NewSessionManager()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for i := 0; i < 3; i++ {
		id := "session-" + string(rune('a'+i))
		sess := &storage.Session{
			ID:       id,
			Status:   storage.StatusActive,
			Provider: "test",
			Model:    "test-model",
		}
		store.CreateSession(context.Background(), sess)
		sm.GetOrCreate(context.Background(), sess, testConfig(), store)
	}

	sm.CloseAll()

	if _, ok := sm.Get("session-a"); ok {
		t.Error("expected all sessions to be cleared")
	}
}

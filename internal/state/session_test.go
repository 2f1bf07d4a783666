// internal/state/session_test.go
package state

import (
	"context"
	"testing"

	"github.com/user/chatstream/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	// Test resolve or create
	key := types.NewSessionKey("test", "123")
	id, err := store.ResolveOrCreate(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected non-empty session ID")
	}

	// Test get
	session, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if session.SessionKey != key {
		t.Errorf("expected key %s, got %s", key, session.SessionKey)
	}

	// Test idempotency
	id2, err := store.ResolveOrCreate(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if id != id2 {
		t.Error("expected same session ID for same key")
	}
}

func TestSessionStoreRecordMessage(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()
	key := types.NewSessionKey("cli", "support")

	if err := store.RecordMessage(ctx, key, "m1", "success"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordMessage(ctx, key, "m2", "error"); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if list[0].LastMessageID != "m2" || list[0].LastStatus != "error" {
		t.Errorf("expected last message m2/error, got %s/%s", list[0].LastMessageID, list[0].LastStatus)
	}
	if list[0].Messages != 2 {
		t.Errorf("expected 2 messages, got %d", list[0].Messages)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, key); err == nil {
		t.Error("expected error deleting a missing session")
	}
}

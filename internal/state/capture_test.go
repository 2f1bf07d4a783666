// internal/state/capture_test.go
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

func TestCaptureStore(t *testing.T) {
	dir := t.TempDir()
	store := NewCaptureStore(dir)
	ctx := context.Background()

	id := types.NewMessageID()
	seq := int64(0)

	// Test append
	event1 := &types.CapturedEvent{
		MessageID: id,
		Index:     0, // Will be auto-assigned
		Event:     "message",
		Sequence:  &seq,
		Data:      json.RawMessage(`{"content":"hello"}`),
		At:        time.Now(),
	}
	if err := store.Append(ctx, event1); err != nil {
		t.Fatal(err)
	}

	// Test load
	events, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Index != 1 {
		t.Errorf("expected index 1, got %d", events[0].Index)
	}

	// Test count
	count, err := store.Count(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	// Test list
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("expected [%s], got %v", id, ids)
	}
}

func TestCaptureStoreRejectsUnsafeID(t *testing.T) {
	store := NewCaptureStore(t.TempDir())
	err := store.Append(context.Background(), &types.CapturedEvent{MessageID: "../escape"})
	if err == nil {
		t.Fatal("expected error for path-like message ID")
	}
	if _, err := store.Load(context.Background(), "a/b"); err == nil {
		t.Fatal("expected error for path-like message ID")
	}
}

func TestCaptureStoreMissing(t *testing.T) {
	store := NewCaptureStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Load(ctx, "nope"); err == nil {
		t.Error("expected error for missing capture")
	}
	count, err := store.Count(ctx, "nope")
	if err != nil || count != 0 {
		t.Errorf("expected 0, nil; got %d, %v", count, err)
	}
	ids, err := store.List(ctx)
	if err != nil || len(ids) != 0 {
		t.Errorf("expected no captures, got %v, %v", ids, err)
	}
}

// A captured stream replays into the same message it produced originally.
func TestCaptureObserverReplay(t *testing.T) {
	store := NewCaptureStore(t.TempDir())
	ctx := context.Background()
	id := types.MessageID("msg-replay")

	wire := "data: {\"event\":\"message\",\"data\":{\"content\":\"B\"},\"sequence\":1}\n" +
		": ping\n" +
		"data: not json\n" +
		"data: {\"event\":\"step\",\"data\":{\"id\":\"s1\",\"status\":\"completed\",\"content\":\"Done\"}}\n" +
		"data: {\"event\":\"message\",\"data\":{\"content\":\"C\"},\"sequence\":3}\n"

	live := chatstream.NewAssistantMessage(string(id))
	_, err := chatstream.Consume(ctx, io.NopCloser(bytes.NewBufferString(wire)), live, nil,
		chatstream.WithObserver(store.Observer(ctx, id, func(err error) { t.Error(err) })))
	if err != nil {
		t.Fatal(err)
	}

	events, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 captured events, got %d", len(events))
	}
	if !events[1].Synthetic {
		t.Error("expected malformed line to be captured as synthetic")
	}

	var buf bytes.Buffer
	if err := WriteWire(&buf, events); err != nil {
		t.Fatal(err)
	}

	replayed := chatstream.NewAssistantMessage(string(id))
	if _, err := chatstream.Consume(ctx, io.NopCloser(&buf), replayed, nil); err != nil {
		t.Fatal(err)
	}

	if replayed.Text() != live.Text() {
		t.Errorf("expected replayed text %q, got %q", live.Text(), replayed.Text())
	}
	if len(replayed.Blocks) != len(live.Blocks) {
		t.Errorf("expected %d blocks, got %d", len(live.Blocks), len(replayed.Blocks))
	}
	if replayed.Steps["s1"] != live.Steps["s1"] {
		t.Errorf("expected step %+v, got %+v", live.Steps["s1"], replayed.Steps["s1"])
	}
}

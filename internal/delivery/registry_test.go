// internal/delivery/registry_test.go
package delivery

import (
	"testing"

	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

func message(text string) *chatstream.Message {
	msg := chatstream.NewAssistantMessage("m1")
	msg.Blocks = []chatstream.Block{{Type: chatstream.BlockText, Content: text}}
	msg.Status = chatstream.StatusSuccess
	return msg
}

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotKey types.SessionKey
	var gotMsg string
	reg.Register("test:", func(key types.SessionKey, msg *chatstream.Message) error {
		gotKey = key
		gotMsg = msg.Text()
		return nil
	})

	err := reg.Deliver("test:123", message("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test:123" {
		t.Errorf("expected session key %q, got %q", "test:123", gotKey)
	}
	if gotMsg != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", message("hello"))
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var called string
	reg.Register("log:", func(types.SessionKey, *chatstream.Message) error {
		called = "log"
		return nil
	})
	reg.Register("file:", func(types.SessionKey, *chatstream.Message) error {
		called = "file"
		return nil
	})

	if err := reg.Deliver("file:nightly", message("x")); err != nil {
		t.Fatal(err)
	}
	if called != "file" {
		t.Errorf("expected file handler, got %q", called)
	}

	if err := reg.Deliver("log:nightly", message("x")); err != nil {
		t.Fatal(err)
	}
	if called != "log" {
		t.Errorf("expected log handler, got %q", called)
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var called string
	reg.Register("file:", func(types.SessionKey, *chatstream.Message) error {
		called = "short"
		return nil
	})
	reg.Register("file:team-", func(types.SessionKey, *chatstream.Message) error {
		called = "long"
		return nil
	})

	for i := 0; i < 20; i++ {
		if err := reg.Deliver("file:team-a", message("x")); err != nil {
			t.Fatal(err)
		}
		if called != "long" {
			t.Fatalf("iteration %d: expected longest prefix handler, got %q", i, called)
		}
	}
}

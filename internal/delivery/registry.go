// internal/delivery/registry.go
package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

// Handler delivers a finished message for the session identified by key.
type Handler func(key types.SessionKey, msg *chatstream.Message) error

// Registry routes finished messages to a delivery handler based on session
// key prefix (e.g. "log:", "file:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for session keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver calls the handler with the longest prefix matching key.
// Returns an error if no handler is registered for the key.
func (r *Registry) Deliver(key types.SessionKey, msg *chatstream.Message) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(string(key), prefix) && (handler == nil || len(prefix) > len(best)) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for session key: %s", key)
	}
	return handler(key, msg)
}

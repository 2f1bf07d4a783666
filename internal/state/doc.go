// Package state provides filesystem-backed storage for stream captures and
// the chat session index, and the probe list.
package state

import "github.com/user/chatstream/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.CaptureStore = (*CaptureStore)(nil)

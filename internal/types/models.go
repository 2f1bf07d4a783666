// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// CapturedEvent is one wire event as it arrived, before sequencing.
type CapturedEvent struct {
	MessageID MessageID       `json:"message_id"`
	Index     int64           `json:"index"`
	Event     string          `json:"event"`
	Sequence  *int64          `json:"sequence,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Synthetic bool            `json:"synthetic,omitempty"`
	At        time.Time       `json:"at"`
}

type SessionIndex struct {
	SessionID     SessionID  `json:"session_id"`
	SessionKey    SessionKey `json:"session_key"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageID MessageID  `json:"last_message_id,omitempty"`
	LastStatus    string     `json:"last_status,omitempty"`
	Messages      int64      `json:"messages"`
}

// StreamRequest is what a client sends to open a stream for one message.
type StreamRequest struct {
	ChatID    SessionKey `json:"chat_id"`
	MessageID MessageID  `json:"message_id"`
	Content   string     `json:"content"`
}

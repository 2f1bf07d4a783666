package chatstream

import (
	"encoding/json"
	"strings"
)

// EventType discriminates wire events.
type EventType string

const (
	EventMessage EventType = "message"
	EventStep    EventType = "step"
	EventError   EventType = "error"
)

// DefaultSentinel is the token that marks the logical end of a message. A
// message event whose content contains it is not applied.
const DefaultSentinel = "done"

// Event is one decoded wire record.
type Event struct {
	Event    EventType       `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	Sequence *int64          `json:"sequence,omitempty"`

	// Synthetic marks an event built from a payload that was not valid JSON.
	Synthetic bool `json:"-"`
}

// MessageData is the payload of message and error events.
type MessageData struct {
	Content string `json:"content"`
}

// StepData is the payload of step events.
type StepData struct {
	ID      string     `json:"id"`
	Status  StepStatus `json:"status"`
	Content string     `json:"content"`
	Details string     `json:"details,omitempty"`
}

// Sequenced reports whether the event carries a usable sequence number.
func (e Event) Sequenced() bool {
	return e.Sequence != nil && *e.Sequence >= 0
}

// ParseEvent decodes the payload of one data line. Blank payloads yield no
// event. A payload that is not a JSON event becomes a message event whose
// content is the raw text and whose sequence is next, so it still takes part
// in ordering.
func ParseEvent(payload string, next int64) (Event, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Event{}, false
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err == nil {
		if ev.Sequence != nil && *ev.Sequence < 0 {
			ev.Sequence = nil
		}
		return ev, true
	}

	data, _ := json.Marshal(MessageData{Content: payload})
	seq := next
	return Event{
		Event:     EventMessage,
		Data:      data,
		Sequence:  &seq,
		Synthetic: true,
	}, true
}

// content extracts the text of a message or error payload. A bare JSON
// string is accepted as the content itself.
func content(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var d MessageData
	if err := json.Unmarshal(raw, &d); err == nil {
		return d.Content
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

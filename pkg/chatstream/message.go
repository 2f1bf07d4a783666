// Package chatstream reconstructs a chat message from a sequenced
// server-sent event stream.
//
// A stream carries message, step and error events. Events tagged with a
// sequence number are applied in sequence order whatever order they arrive
// in; untagged events are applied on arrival. Each applied event mutates the
// caller's Message in place and hands the same pointer to the update callback.
package chatstream

import "maps"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle state of a message. The caller sets it around a
// stream; the engine only ever writes StatusError.
type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
)

// StepStatus is the state reported by the server for a step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// BlockType distinguishes text blocks from step blocks.
type BlockType string

const (
	BlockText BlockType = "text"
	BlockStep BlockType = "step"
)

// Block is one unit of rendered content. For step blocks StepID is a lookup
// key into Message.Steps, not an owning reference.
type Block struct {
	Type    BlockType `json:"type"`
	Content string    `json:"content"`
	StepID  string    `json:"step_id,omitempty"`
}

// Step is a sub-task of an assistant response, updated in place by id.
type Step struct {
	ID      string     `json:"id"`
	Status  StepStatus `json:"status"`
	Content string     `json:"content"`
	Details string     `json:"details,omitempty"`
}

// Message is the accumulating document a stream is reduced into.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Role   Role            `json:"role"`
	Blocks []Block         `json:"blocks"`
	Steps  map[string]Step `json:"steps"`
	Status Status          `json:"status"`
}

// NewAssistantMessage returns an empty assistant message in the loading state.
func NewAssistantMessage(id string) *Message {
	return &Message{
		ID:     id,
		Role:   RoleAssistant,
		Steps:  make(map[string]Step),
		Status: StatusLoading,
	}
}

// StepFor returns the step a block refers to. It reports false for text
// blocks and for step blocks whose step is absent, which callers render as
// having no step data.
func (m *Message) StepFor(b Block) (Step, bool) {
	if b.Type != BlockStep || m.Steps == nil {
		return Step{}, false
	}
	s, ok := m.Steps[b.StepID]
	return s, ok
}

// Text concatenates the content of all text blocks.
func (m *Message) Text() string {
	var n int
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			n += len(b.Content)
		}
	}
	buf := make([]byte, 0, n)
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			buf = append(buf, b.Content...)
		}
	}
	return string(buf)
}

// Clone returns a deep copy that shares no memory with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Blocks != nil {
		c.Blocks = make([]Block, len(m.Blocks))
		copy(c.Blocks, m.Blocks)
	}
	if m.Steps != nil {
		c.Steps = maps.Clone(m.Steps)
	}
	return &c
}

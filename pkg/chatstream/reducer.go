package chatstream

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// reducer applies events to a single Message.
type reducer struct {
	msg      *Message
	onUpdate func(*Message)
	sentinel string
	logger   *slog.Logger
}

func (r *reducer) apply(ev Event) {
	switch ev.Event {
	case EventMessage:
		r.applyMessage(ev)
	case EventStep:
		r.applyStep(ev)
	case EventError:
		r.applyError(ev)
	default:
		r.logger.Debug("ignoring unknown event", "event", string(ev.Event), "message_id", r.msg.ID)
	}
}

func (r *reducer) applyMessage(ev Event) {
	text := content(ev.Data)
	if text == "" {
		return
	}
	if r.sentinel != "" && strings.Contains(text, r.sentinel) {
		r.logger.Debug("end of message sentinel", "message_id", r.msg.ID)
		return
	}

	m := r.msg
	if n := len(m.Blocks); n > 0 && m.Blocks[n-1].Type == BlockText {
		m.Blocks[n-1].Content += text
	} else {
		m.Blocks = append(m.Blocks, Block{Type: BlockText, Content: text})
	}
	r.notify()
}

func (r *reducer) applyStep(ev Event) {
	var d StepData
	if err := json.Unmarshal(ev.Data, &d); err != nil || d.ID == "" {
		r.logger.Debug("ignoring step event without id", "message_id", r.msg.ID, "error", err)
		return
	}

	m := r.msg
	if m.Steps == nil {
		m.Steps = make(map[string]Step)
	}
	step := Step{ID: d.ID, Status: d.Status, Content: d.Content, Details: d.Details}
	if _, ok := m.Steps[d.ID]; !ok {
		m.Blocks = append(m.Blocks, Block{Type: BlockStep, Content: d.Content, StepID: d.ID})
	}
	m.Steps[d.ID] = step
	r.notify()
}

func (r *reducer) applyError(ev Event) {
	m := r.msg
	m.Blocks = []Block{{Type: BlockText, Content: content(ev.Data)}}
	m.Steps = make(map[string]Step)
	m.Status = StatusError
	r.logger.Debug("stream reported error", "message_id", m.ID)
	r.notify()
}

func (r *reducer) notify() {
	if r.onUpdate != nil {
		r.onUpdate(r.msg)
	}
}

package dispatch

import (
	"time"

	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Job streams one assistant message for a session. Every job owns its own
// Message, so jobs never share reduction state.
type Job struct {
	ID         types.JobID
	SessionKey types.SessionKey
	MessageID  types.MessageID
	Content    string
	Message    *chatstream.Message
	Status     JobStatus
	Stats      chatstream.Stats
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Err        error

	// OnUpdate receives the job's Message after every applied change. It
	// runs on the lane goroutine and must not retain the pointer; use
	// Message.Clone for that.
	OnUpdate func(*chatstream.Message)
	// OnDone is called once the job has finished, whatever the outcome.
	OnDone func(*Job)
}

// NewJob creates a queued Job with a fresh message id.
func NewJob(key types.SessionKey, content string) *Job {
	id := types.NewMessageID()
	return &Job{
		ID:         types.NewJobID(),
		SessionKey: key,
		MessageID:  id,
		Content:    content,
		Message:    chatstream.NewAssistantMessage(string(id)),
		Status:     JobStatusQueued,
		CreatedAt:  time.Now(),
	}
}

// JobOption configures optional behavior on a Job.
type JobOption func(*Job)

// WithOnUpdate sets the per-change callback.
func WithOnUpdate(fn func(*chatstream.Message)) JobOption {
	return func(j *Job) { j.OnUpdate = fn }
}

// WithOnDone sets the completion callback.
func WithOnDone(fn func(*Job)) JobOption {
	return func(j *Job) { j.OnDone = fn }
}

// WithMessageID overrides the generated message id.
func WithMessageID(id types.MessageID) JobOption {
	return func(j *Job) {
		j.MessageID = id
		j.Message.ID = string(id)
	}
}

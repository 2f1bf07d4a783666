// Package dispatch streams assistant messages for many chat sessions at
// once. Messages within a session stream in submission order; sessions
// stream in parallel up to a global limit.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatclient"
	"github.com/user/chatstream/pkg/chatstream"
)

// Streamer opens a stream for a request and reduces it into msg.
// *chatclient.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req chatclient.Request, msg *chatstream.Message, onUpdate func(*chatstream.Message), opts ...chatstream.Option) (chatstream.Stats, error)
}

// Capturer records the raw events of a message as they arrive.
// *state.CaptureStore implements it.
type Capturer interface {
	Observer(ctx context.Context, id types.MessageID, onErr func(error)) func(chatstream.Event)
}

// Config holds the dispatcher settings.
type Config struct {
	MaxConcurrent int64
	LaneSize      int
	// StreamOptions are passed to every Consume call, e.g. a sentinel.
	StreamOptions []chatstream.Option
	Logger        *slog.Logger
}

// Dispatcher turns submitted prompts into jobs, resolves their sessions and
// streams them through a Queue.
type Dispatcher struct {
	client   Streamer
	sessions types.SessionStore
	captures Capturer
	opts     []chatstream.Option
	logger   *slog.Logger
	Queue    *Queue
}

// New creates a Dispatcher. captures may be nil to disable capture.
func New(client Streamer, sessions types.SessionStore, captures Capturer, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		client:   client,
		sessions: sessions,
		captures: captures,
		opts:     cfg.StreamOptions,
		logger:   logger,
		Queue:    NewQueue(cfg.MaxConcurrent, cfg.LaneSize),
	}
	d.Queue.SetProcessor(d.process)
	return d
}

// Start starts the internal queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.Queue.Start(ctx)
}

// Stop cancels in-flight streams and waits for the lanes to exit.
func (d *Dispatcher) Stop() {
	d.Queue.Stop()
}

// Submit resolves (or creates) the session for key and enqueues a job that
// streams the reply to content.
func (d *Dispatcher) Submit(ctx context.Context, key types.SessionKey, content string, opts ...JobOption) (*Job, error) {
	if _, err := d.sessions.ResolveOrCreate(ctx, key); err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	job := NewJob(key, content)
	for _, opt := range opts {
		opt(job)
	}
	if err := d.Queue.Enqueue(job); err != nil {
		return nil, err
	}
	d.logger.Debug("job queued",
		"job_id", string(job.ID),
		"session_key", string(key),
		"message_id", string(job.MessageID),
	)
	return job, nil
}

// WaitIdle blocks until every submitted job has finished or timeout expires.
func (d *Dispatcher) WaitIdle(timeout time.Duration) bool {
	return d.Queue.WaitIdle(timeout)
}

func (d *Dispatcher) process(ctx context.Context, job *Job) error {
	started := time.Now()
	job.StartedAt = &started
	job.Status = JobStatusRunning

	opts := append([]chatstream.Option{chatstream.WithLogger(d.logger)}, d.opts...)
	if d.captures != nil {
		opts = append(opts, chatstream.WithObserver(d.captures.Observer(ctx, job.MessageID, func(err error) {
			d.logger.Warn("capture event", "message_id", string(job.MessageID), "error", err)
		})))
	}

	req := chatclient.Request{
		ChatID:    string(job.SessionKey),
		MessageID: string(job.MessageID),
		Content:   job.Content,
	}
	stats, err := d.client.Stream(ctx, req, job.Message, job.OnUpdate, opts...)

	ended := time.Now()
	job.EndedAt = &ended
	job.Stats = stats
	if err != nil {
		job.Status = JobStatusFailed
		job.Err = err
	} else {
		job.Status = JobStatusComplete
	}

	// Record against a fresh context: the stream context may be cancelled.
	if rerr := d.sessions.RecordMessage(context.WithoutCancel(ctx), job.SessionKey, job.MessageID, string(job.Message.Status)); rerr != nil {
		d.logger.Warn("record message", "session_key", string(job.SessionKey), "error", rerr)
	}

	d.logger.Info("message streamed",
		"session_key", string(job.SessionKey),
		"message_id", string(job.MessageID),
		"status", string(job.Message.Status),
		"events", stats.Events,
		"duration", ended.Sub(started),
	)

	if job.OnDone != nil {
		job.OnDone(job)
	}
	if err != nil {
		return fmt.Errorf("stream message %s: %w", job.MessageID, err)
	}
	return nil
}

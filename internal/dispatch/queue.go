package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/chatstream/internal/types"
)

// ErrQueueFull is returned by Enqueue when a session lane has no room.
var ErrQueueFull = errors.New("queue full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("queue stopped")

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session gets its own FIFO channel (lane) so that messages within a
// session stream one after the other, while the semaphore limits the
// total number of concurrent streams across all sessions.
type Queue struct {
	lanes     map[types.SessionKey]chan *Job
	laneSize  int
	semaphore *semaphore.Weighted
	processor func(context.Context, *Job) error
	active    atomic.Int64
	pending   atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to stream
// simultaneously across all session lanes, with laneSize slots per lane.
func NewQueue(maxConcurrent int64, laneSize int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if laneSize < 1 {
		laneSize = 1
	}
	return &Queue{
		lanes:     make(map[types.SessionKey]chan *Job),
		laneSize:  laneSize,
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// jobs to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Job to its session's lane, creating the lane (and its
// goroutine) on first use. Returns ErrQueueFull if the lane's buffer is full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrStopped
	}

	lane, exists := q.lanes[job.SessionKey]
	if !exists {
		lane = make(chan *Job, q.laneSize)
		q.lanes[job.SessionKey] = lane
		q.wg.Add(1)
		go q.processLane(job.SessionKey, lane)
	}

	q.pending.Add(1)
	select {
	case lane <- job:
		return nil
	default:
		q.pending.Add(-1)
		return fmt.Errorf("session %s: %w", job.SessionKey, ErrQueueFull)
	}
}

// processLane drains a single session lane, acquiring a semaphore slot
// before running the processor synchronously. This keeps strict FIFO
// ordering within a session while the semaphore limits cross-session
// parallelism.
func (q *Queue) processLane(key types.SessionKey, lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				q.pending.Add(-1)
				return
			}
			q.active.Add(1)
			q.pending.Add(-1)
			if q.processor != nil {
				if err := q.processor(q.ctx, job); err != nil {
					slog.Error("job failed",
						"job_id", string(job.ID),
						"session_key", string(key),
						"message_id", string(job.MessageID),
						"error", err,
					)
				}
			}
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// Active returns the number of jobs currently streaming.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// WaitIdle blocks until no jobs are queued or streaming, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(context.Context, *Job) error) {
	q.processor = fn
}

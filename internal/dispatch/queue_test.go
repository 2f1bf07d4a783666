package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/chatstream/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2, 10)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.SetProcessor(func(_ context.Context, job *Job) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	for i := 0; i < 5; i++ {
		job := NewJob(types.SessionKey(fmt.Sprintf("session-%d", i)), "hi")
		if err := queue.Enqueue(job); err != nil {
			t.Fatal(err)
		}
	}

	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("timed out waiting for jobs")
	}

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
	if m := atomic.LoadInt32(&maxSeen); m < 2 {
		t.Errorf("expected sessions to stream in parallel, saw %d", m)
	}
}

func TestQueueSameSessionOrdering(t *testing.T) {
	queue := NewQueue(4, 10)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	queue.SetProcessor(func(_ context.Context, job *Job) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, job.Content)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	key := types.SessionKey("same-session")
	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(NewJob(key, fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for jobs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
}

func TestQueueFull(t *testing.T) {
	queue := NewQueue(1, 1)
	queue.Start(context.Background())
	defer queue.Stop()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	queue.SetProcessor(func(_ context.Context, job *Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	key := types.SessionKey("busy")
	if err := queue.Enqueue(NewJob(key, "first")); err != nil {
		t.Fatal(err)
	}
	<-started

	// The lane holds one waiting job; the next is rejected.
	if err := queue.Enqueue(NewJob(key, "second")); err != nil {
		t.Fatal(err)
	}
	err := queue.Enqueue(NewJob(key, "third"))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	// Other sessions have their own lane.
	if err := queue.Enqueue(NewJob("other", "x")); err != nil {
		t.Errorf("expected other session to be accepted, got %v", err)
	}
	close(block)
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	queue := NewQueue(1, 1)
	queue.Start(context.Background())
	queue.Stop()

	if err := queue.Enqueue(NewJob("late", "x")); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	// A second Stop must not panic on closed lanes.
	queue.Stop()
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1, 1)
	queue.Start(context.Background())
	defer queue.Stop()

	// Enqueue without setting a processor -- should not panic
	if err := queue.Enqueue(NewJob("no-proc", "x")); err != nil {
		t.Fatal(err)
	}
	if !queue.WaitIdle(time.Second) {
		t.Error("expected queue to become idle")
	}
}

package chatstream

import (
	"context"
	"io"
)

// Watcher runs Consume on its own goroutine and publishes snapshots.
//
// Updates holds at most one snapshot. When the consumer falls behind the
// pending snapshot is replaced by the newest one, so reduction never waits
// on rendering.
type Watcher struct {
	updates chan *Message
	done    chan struct{}

	stats Stats
	err   error
}

// Watch starts consuming r into msg. msg must not be touched by the caller
// until Wait returns; read the snapshots from Updates instead.
func Watch(ctx context.Context, r io.ReadCloser, msg *Message, opts ...Option) *Watcher {
	w := &Watcher{
		updates: make(chan *Message, 1),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		defer close(w.updates)
		w.stats, w.err = Consume(ctx, r, msg, w.publish, opts...)
	}()
	return w
}

// Updates returns the snapshot channel. It is closed when the stream ends.
func (w *Watcher) Updates() <-chan *Message {
	return w.updates
}

// Wait blocks until the stream ends and returns the result of Consume.
func (w *Watcher) Wait() (Stats, error) {
	<-w.done
	return w.stats, w.err
}

func (w *Watcher) publish(m *Message) {
	snap := m.Clone()
	for {
		select {
		case w.updates <- snap:
			return
		default:
		}
		// Drop the stale snapshot; the consumer only needs the latest.
		select {
		case <-w.updates:
		default:
		}
	}
}

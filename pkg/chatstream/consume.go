package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/user/chatstream/pkg/sse"
)

// Stats describes one consumed stream.
type Stats struct {
	Lines       int // lines read, including non-data lines
	Events      int // events parsed
	Malformed   int // payloads that fell back to raw text
	Buffered    int // sequenced events that arrived ahead of their turn
	ForcedDrain int // events released by the end-of-stream drain
}

// Option configures Consume and Watch.
type Option func(*options)

type options struct {
	sentinel string
	logger   *slog.Logger
	observer func(Event)
}

// WithSentinel replaces DefaultSentinel. An empty sentinel disables
// suppression.
func WithSentinel(s string) Option {
	return func(o *options) { o.sentinel = s }
}

// WithLogger sets the logger used for debug output. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers fn to receive every parsed event in arrival order,
// before sequencing.
func WithObserver(fn func(Event)) Option {
	return func(o *options) { o.observer = fn }
}

// Consume reads r to the end and reduces its events into msg, calling
// onUpdate with msg after every applied change. msg is mutated in place and
// no copy is made; use Message.Clone to keep a snapshot.
//
// Consume owns r and closes it before returning. Cancelling ctx closes r,
// which aborts a blocked read. If a read fails Consume returns the wrapped
// error without draining events still waiting for a missing sequence number.
// Otherwise, at end of stream, those events are applied in ascending
// sequence order.
func Consume(ctx context.Context, r io.ReadCloser, msg *Message, onUpdate func(*Message), opts ...Option) (Stats, error) {
	o := options{
		sentinel: DefaultSentinel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	red := &reducer{
		msg:      msg,
		onUpdate: onUpdate,
		sentinel: o.sentinel,
		logger:   o.logger,
	}
	seq := newSequencer(red.apply)

	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	var stats Stats
	err := sse.ReadLines(ctx, r, func(line string) error {
		stats.Lines++
		payload, ok := sse.Payload(line)
		if !ok {
			return nil
		}
		ev, ok := ParseEvent(payload, seq.next)
		if !ok {
			return nil
		}
		stats.Events++
		if ev.Synthetic {
			stats.Malformed++
			o.logger.Debug("malformed event payload, applying as text",
				"message_id", msg.ID,
				"sequence", seq.next,
			)
		}
		if o.observer != nil {
			o.observer(ev)
		}
		seq.push(ev)
		return nil
	})
	stats.Buffered = seq.buffered
	if err != nil {
		r.Close()
		if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
			err = fmt.Errorf("read stream: %w", cerr)
		}
		return stats, err
	}

	stats.ForcedDrain = seq.drain()
	if stats.ForcedDrain > 0 {
		o.logger.Debug("drained out of order events at end of stream",
			"message_id", msg.ID,
			"count", stats.ForcedDrain,
		)
	}
	r.Close()
	return stats, nil
}

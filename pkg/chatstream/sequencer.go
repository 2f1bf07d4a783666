package chatstream

import "slices"

// sequencer releases sequenced events in order. It lives for exactly one
// stream.
type sequencer struct {
	pending map[int64]Event
	next    int64
	release func(Event)

	buffered int
}

func newSequencer(release func(Event)) *sequencer {
	return &sequencer{
		pending: make(map[int64]Event),
		release: release,
	}
}

// push releases an unsequenced event immediately. A sequenced event is
// stored under its sequence, replacing any earlier event with the same
// number, and then every contiguous event from next onward is released.
func (s *sequencer) push(ev Event) {
	if !ev.Sequenced() {
		s.release(ev)
		return
	}

	seq := *ev.Sequence
	if seq != s.next {
		s.buffered++
	}
	s.pending[seq] = ev

	for {
		ev, ok := s.pending[s.next]
		if !ok {
			return
		}
		delete(s.pending, s.next)
		s.next++
		s.release(ev)
	}
}

// drain releases everything still pending in ascending sequence order,
// ignoring gaps, and returns how many events it released.
func (s *sequencer) drain() int {
	if len(s.pending) == 0 {
		return 0
	}
	keys := make([]int64, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		s.release(s.pending[k])
	}
	clear(s.pending)
	return len(keys)
}

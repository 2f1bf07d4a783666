package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBufferSplitsAcrossChunks(t *testing.T) {
	var lb LineBuffer

	assert.Empty(t, lb.Feed([]byte("data: {\"ev")))
	assert.Equal(t, 10, lb.Pending())

	lines := lb.Feed([]byte("ent\":1}\ndata: two\n\ndata: thr"))
	assert.Equal(t, []string{`data: {"event":1}`, "data: two", ""}, lines)

	lines = lb.Feed([]byte("ee\r\n"))
	assert.Equal(t, []string{"data: three"}, lines)

	_, ok := lb.Flush()
	assert.False(t, ok)
}

func TestLineBufferFlushTrailing(t *testing.T) {
	var lb LineBuffer
	lb.Feed([]byte("data: a\ndata: tail"))

	rest, ok := lb.Flush()
	require.True(t, ok)
	assert.Equal(t, "data: tail", rest)
	assert.Zero(t, lb.Pending())

	lb.Feed([]byte("  \t"))
	_, ok = lb.Flush()
	assert.False(t, ok, "whitespace-only remainder is not a line")
}

func TestPayload(t *testing.T) {
	p, ok := Payload(`data: {"event":"message"}`)
	require.True(t, ok)
	assert.Equal(t, ` {"event":"message"}`, p)

	p, ok = Payload("data:x")
	require.True(t, ok)
	assert.Equal(t, "x", p)

	for _, line := range []string{": ping", "", "event: message", " data: x"} {
		_, ok := Payload(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestReadLinesOneByteReader(t *testing.T) {
	input := "\ufeffdata: héllo\n: keep-alive\ndata: 世界\ndata: end"

	var got []string
	err := ReadLines(context.Background(), iotest.OneByteReader(strings.NewReader(input)), func(line string) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"data: héllo", ": keep-alive", "data: 世界", "data: end"}, got)
}

func TestReadLinesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: one\ndata: partial"), iotest.ErrReader(boom))

	var got []string
	err := ReadLines(context.Background(), r, func(line string) error {
		got = append(got, line)
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"data: one"}, got, "partial line is not flushed on failure")
}

func TestReadLinesCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadLines(context.Background(), strings.NewReader("a\nb\nc\n"), func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadLinesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ReadLines(ctx, strings.NewReader("data: x\n"), func(string) error {
		t.Fatal("no line expected after cancel")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// Splitting the same bytes at arbitrary points never changes the emitted lines.
func TestLineBufferChunkingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	input := "data: {\"event\":\"message\",\"data\":{\"content\":\"héllo\"}}\n" +
		": ping\r\n" +
		"data: {\"event\":\"step\",\"sequence\":3}\n\n" +
		"data: raw text without end"

	var whole LineBuffer
	expected := whole.Feed([]byte(input))
	if rest, ok := whole.Flush(); ok {
		expected = append(expected, rest)
	}

	properties.Property("lines are independent of chunk boundaries", prop.ForAll(
		func(cuts []int) bool {
			var lb LineBuffer
			var got []string
			prev := 0
			for _, c := range cuts {
				if c < prev {
					continue
				}
				got = append(got, lb.Feed([]byte(input[prev:c]))...)
				prev = c
			}
			got = append(got, lb.Feed([]byte(input[prev:]))...)
			if rest, ok := lb.Flush(); ok {
				got = append(got, rest)
			}
			if len(got) != len(expected) {
				return false
			}
			for i := range got {
				if got[i] != expected[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(input))),
	))

	properties.TestingRun(t)
}

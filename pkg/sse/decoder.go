// Package sse turns a server-sent event byte stream into discrete lines.
package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DataPrefix marks lines that carry an event payload.
const DataPrefix = "data:"

// chunkSize is the read size used by ReadLines.
const chunkSize = 4096

// LineBuffer accumulates raw chunks and yields complete lines. The zero
// value is ready to use.
type LineBuffer struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns every complete line it now
// holds, in arrival order. The trailing segment after the last line break
// stays buffered until more data or Flush.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, trimCR(string(b.buf[:i])))
		b.buf = b.buf[i+1:]
	}

	// Compact so a long stream does not pin every consumed chunk.
	if len(b.buf) == 0 {
		b.buf = nil
	} else if cap(b.buf) > 2*len(b.buf)+chunkSize {
		b.buf = append([]byte(nil), b.buf...)
	}
	return lines
}

// Flush returns the buffered remainder when it holds anything other than
// whitespace, and resets the buffer.
func (b *LineBuffer) Flush() (string, bool) {
	rest := trimCR(string(b.buf))
	b.buf = nil
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return rest, true
}

// Pending reports the number of buffered bytes not yet emitted as a line.
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

func trimCR(s string) string {
	return strings.TrimSuffix(s, "\r")
}

// Payload returns the text following the data marker. Lines without the
// marker (comments, keep-alives, blank separators, other fields) report false.
func Payload(line string) (string, bool) {
	return strings.CutPrefix(line, DataPrefix)
}

// ReadLines reads r chunk by chunk and calls fn for every line, including a
// final unterminated line at end of stream. Input is decoded as UTF-8 with a
// leading byte order mark removed; runes split across reads are preserved.
//
// It returns nil at EOF, the error from fn if fn fails, or the wrapped read
// error. Cancelling ctx stops the loop before the next read.
func ReadLines(ctx context.Context, r io.Reader, fn func(line string) error) error {
	src := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	var lb LineBuffer
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		n, err := src.Read(chunk)
		if n > 0 {
			for _, line := range lb.Feed(chunk[:n]) {
				if ferr := fn(line); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			if rest, ok := lb.Flush(); ok {
				return fn(rest)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

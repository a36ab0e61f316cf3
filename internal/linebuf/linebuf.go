// Package linebuf reassembles logical lines from arbitrarily chunked output.
package linebuf

import (
	"bytes"
	"iter"

	"github.com/schovi/qrun/internal/decode"
)

// Buffer holds the bytes of one output channel that have not been emitted
// as a line yet. It is not safe for concurrent use; the supervisor feeds
// each channel from a single goroutine.
type Buffer struct {
	dec     decode.Decoder
	pending []byte
}

// New returns an empty buffer decoding lines with dec. A nil decoder means UTF-8.
func New(dec decode.Decoder) *Buffer {
	if dec == nil {
		dec = decode.UTF8{}
	}
	return &Buffer{dec: dec}
}

// Feed appends chunk and returns the complete lines now available, in
// arrival order, without their terminators. Lines are consumed as the
// sequence is ranged over; lines left unconsumed by an early break are
// yielded by the next Feed or Flush.
func (b *Buffer) Feed(chunk []byte) iter.Seq[string] {
	b.pending = append(b.pending, chunk...)
	return b.lines
}

// Flush yields any complete lines still pending followed by the trailing
// partial line, if there is one, and leaves the buffer empty. Flushing an
// empty buffer yields nothing.
func (b *Buffer) Flush() iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range b.lines {
			if !yield(line) {
				return
			}
		}
		if len(b.pending) == 0 {
			return
		}
		line := b.decode(b.pending)
		b.Reset()
		yield(line)
	}
}

// Reset drops everything pending.
func (b *Buffer) Reset() {
	b.pending = b.pending[:0]
}

// Pending reports how many bytes are waiting for a terminator.
func (b *Buffer) Pending() int {
	return len(b.pending)
}

func (b *Buffer) lines(yield func(string) bool) {
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			return
		}
		line := b.decode(b.pending[:i])
		b.pending = b.pending[i+1:]
		if len(b.pending) == 0 {
			b.pending = nil
		}
		if !yield(line) {
			return
		}
	}
}

func (b *Buffer) decode(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	return b.dec.Decode(raw)
}

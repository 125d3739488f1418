// Package bodybuf reads streamed response bodies into an owned, size-bounded buffer.
package bodybuf

import (
	"errors"
	"io"
)

const (
	// ChunkSize is the read size per iteration
	ChunkSize = 6144
	// DefaultLimit caps a body at 512 MiB
	DefaultLimit = 512 << 20
)

// ErrLimit is returned when a body grows past the buffer limit
var ErrLimit = errors.New("body exceeds buffer limit")

// Buffer accumulates a body chunk by chunk and refuses to grow past its limit
type Buffer struct {
	data  []byte
	limit int
}

// New creates a buffer bounded at limit bytes (DefaultLimit when limit <= 0)
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit}
}

// ReadFrom drains r into the buffer. Growth past the limit fails with ErrLimit.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	chunk := make([]byte, ChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if len(b.data)+n > b.limit {
				return total, ErrLimit
			}
			b.grow(n)
			b.data = append(b.data, chunk[:n]...)
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// grow doubles capacity until n more bytes fit, clamped to the limit
func (b *Buffer) grow(n int) {
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCap := cap(b.data) * 2
	if newCap < need {
		newCap = need
	}
	if newCap > b.limit {
		newCap = b.limit
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Bytes returns the accumulated body
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset empties the buffer, keeping its capacity
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

package zsel

import (
	"fmt"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/mcache"
)

const (
	block1k = 1 * 1024
	block4k = 4 * 1024
	block8k = 8 * 1024

	pageSize = block8k
)

// WritableMessage is a payload with a write cursor. Writers consume it in place.
type WritableMessage interface {
	HasRemaining() bool
	Remaining() int
	// Bytes returns the region that has not been written yet.
	Bytes() []byte
	Skip(n int) error
	Release() error
}

// Buffer is a cursor-bearing byte buffer.
//
// Data between the cursor and len(buf) is pending; the region between
// len(buf) and cap(buf) is free space that reads fill.
type Buffer struct {
	buf      []byte
	pos      int
	pooled   bool
	released int32
}

var _ WritableMessage = (*Buffer)(nil)

// NewBuffer returns an empty Buffer with at least capacity bytes of free space,
// allocated from mcache.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = block1k
	}
	return &Buffer{buf: mcache.Malloc(0, capacity), pooled: true}
}

// WrapBuffer returns a Buffer whose pending data is p. p is not copied.
func WrapBuffer(p []byte) *Buffer {
	return &Buffer{buf: p}
}

func (b *Buffer) HasRemaining() bool {
	return b.pos < len(b.buf)
}

func (b *Buffer) Remaining() int {
	return len(b.buf) - b.pos
}

func (b *Buffer) Bytes() []byte {
	return b.buf[b.pos:]
}

// Skip advances the cursor by n pending bytes.
func (b *Buffer) Skip(n int) error {
	if n < 0 || n > b.Remaining() {
		return fmt.Errorf("%w: skip %d with %d remaining", ErrInvalidArgument, n, b.Remaining())
	}
	b.pos += n
	return nil
}

// Write appends p to the pending data, growing through mcache when needed.
func (b *Buffer) Write(p []byte) (n int, err error) {
	b.grow(len(p))
	n = copy(b.tail(), p)
	b.ack(n)
	return n, nil
}

// WriteString implements io.StringWriter.
func (b *Buffer) WriteString(s string) (n int, err error) {
	b.grow(len(s))
	n = copy(b.tail(), s)
	b.ack(n)
	return n, nil
}

// Release returns pooled memory. Only the first call has an effect.
func (b *Buffer) Release() error {
	if !atomic.CompareAndSwapInt32(&b.released, 0, 1) {
		return nil
	}
	if b.pooled {
		mcache.Free(b.buf)
	}
	b.buf, b.pos = nil, 0
	return nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return atomic.LoadInt32(&b.released) == 1
}

// tail returns the free space after the pending data.
func (b *Buffer) tail() []byte {
	return b.buf[len(b.buf):cap(b.buf)]
}

// ack marks n bytes of the tail as pending data.
func (b *Buffer) ack(n int) {
	if n > 0 {
		b.buf = b.buf[:len(b.buf)+n]
	}
}

func (b *Buffer) grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	size := len(b.buf) + n
	if size < pageSize {
		size = pageSize
	}
	nb := mcache.Malloc(len(b.buf), size)
	copy(nb, b.buf)
	if b.pooled {
		mcache.Free(b.buf)
	}
	b.buf, b.pooled = nb, true
}

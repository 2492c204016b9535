package data

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Buffer is a raw byte buffer with its own reader/writer lock.
type Buffer struct {
	sync.RWMutex

	id   string
	data []byte
}

// NewBuffer allocates a zeroed buffer of size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{
		id:   uuid.NewString(),
		data: make([]byte, size),
	}
}

// ID returns the buffer identity.
func (b *Buffer) ID() string { return b.id }

// Data returns the underlying bytes. The caller holds a lock and must not
// keep the slice past it.
func (b *Buffer) Data() []byte { return b.data }

// Len returns the buffer size.
func (b *Buffer) Len() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.data)
}

// Bytes returns a copy of the buffer content.
func (b *Buffer) Bytes() []byte {
	b.RLock()
	defer b.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Resize reallocates the buffer, keeping the common prefix.
func (b *Buffer) Resize(size int) {
	b.Lock()
	defer b.Unlock()
	switch {
	case size <= len(b.data):
		b.data = b.data[:size]
	case size <= cap(b.data):
		n := len(b.data)
		b.data = b.data[:size]
		clear(b.data[n:])
	default:
		data := make([]byte, size)
		copy(data, b.data)
		b.data = data
	}
}

// WriteAt copies p into the buffer at off.
func (b *Buffer) WriteAt(p []byte, off int) error {
	b.Lock()
	defer b.Unlock()
	if off < 0 || off+len(p) > len(b.data) {
		return fmt.Errorf("buffer write [%d:%d] out of range %d", off, off+len(p), len(b.data))
	}
	copy(b.data[off:], p)
	return nil
}

// Fill sets every byte of the buffer to v.
func (b *Buffer) Fill(v byte) {
	b.Lock()
	defer b.Unlock()
	for i := range b.data {
		b.data[i] = v
	}
}

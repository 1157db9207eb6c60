package optimize

import (
	"bytes"
	"sync"
)

// BufferPool is a pool of bytes.Buffers to reduce allocations on the
// per-frame encode path.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

// NewBufferPool creates a pool whose buffers start at initialSize bytes.
// Buffers grown beyond maxSize are dropped instead of returned to the pool.
func NewBufferPool(initialSize, maxSize int) *BufferPool {
	return &BufferPool{
		maxSize: maxSize,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
	}
}

// Get gets an empty buffer from the pool
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || (p.maxSize > 0 && buf.Cap() > p.maxSize) {
		return
	}
	p.pool.Put(buf)
}

// CopyBytes returns an owned copy of the buffer contents so the buffer can be
// returned to the pool.
func CopyBytes(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

package wipe

import (
	"sync"
)

// BufferPool keeps reusable chunk buffers.
// Chunk buffers are large (64MB by default), so passes reuse them instead of
// allocating a fresh one per restart.
type BufferPool struct {
	pools map[int]*sync.Pool
	mu    sync.Mutex
}

var globalBufferPool = &BufferPool{
	pools: make(map[int]*sync.Pool),
}

// GetBuffer returns a pooled buffer of size bytes, or a new one.
func GetBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	return globalBufferPool.get(size)
}

// PutBuffer returns buf to its pool.
func PutBuffer(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	globalBufferPool.put(buf)
}

func (bp *BufferPool) pool(size int) *sync.Pool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	p, ok := bp.pools[size]
	if !ok {
		p = &sync.Pool{New: func() interface{} {
			b := make([]byte, size)
			return &b
		}}
		bp.pools[size] = p
	}
	return p
}

func (bp *BufferPool) get(size int) []byte {
	b := bp.pool(size).Get().(*[]byte)
	return (*b)[:size]
}

func (bp *BufferPool) put(buf []byte) {
	buf = buf[:cap(buf)]
	bp.pool(len(buf)).Put(&buf)
}

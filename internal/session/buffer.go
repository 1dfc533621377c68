package session

import (
	"errors"
	"io"
)

// ChunkSize is the fixed chunk size the reverse-mode buffer operates on
// (spec.md §4.8: "bounded FIFO of size chunks of ≤8 KiB").
const ChunkSize = 8 * 1024

// ErrBufferFull is returned by Buffer.Push when the FIFO has no room and
// the caller has asked not to block.
var ErrBufferFull = errors.New("session: buffer full")

// Buffer is a bounded FIFO of byte chunks sitting between an upstream
// reader and a client writer. size bounds memory to size*ChunkSize bytes
// plus small framing overhead, per spec.md §8's boundary behavior.
type Buffer struct {
	ch chan []byte
}

// NewBuffer builds a Buffer holding up to size chunks. size <= 0 disables
// buffering: callers should pipe through directly instead of constructing
// one (spec.md: "else pipes through").
func NewBuffer(size int) *Buffer {
	return &Buffer{ch: make(chan []byte, size)}
}

// Push enqueues a chunk, blocking if the buffer is full and done isn't
// closed first.
func (b *Buffer) Push(chunk []byte, done <-chan struct{}) error {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case b.ch <- cp:
		return nil
	case <-done:
		return io.ErrClosedPipe
	}
}

// Pop dequeues the next chunk, or returns ok=false once Close has drained
// the buffer.
func (b *Buffer) Pop() (chunk []byte, ok bool) {
	c, ok := <-b.ch
	return c, ok
}

// Close signals no more chunks will be pushed; readers drain remaining
// buffered chunks then see ok=false.
func (b *Buffer) Close() { close(b.ch) }

// Pump copies from src into the buffer in ChunkSize reads until src is
// exhausted or done fires, then closes the buffer. Run in its own
// goroutine; pair with a consumer calling Pop in another.
func Pump(src io.Reader, b *Buffer, done <-chan struct{}) error {
	defer b.Close()
	buf := make([]byte, ChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if perr := b.Push(buf[:n], done); perr != nil {
				return perr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
}

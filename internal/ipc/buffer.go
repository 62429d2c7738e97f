package ipc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// EOF is the tombstone byte Close appends to a Buffer.
const EOF byte = 0xFF

var (
	// ErrClosed is returned when writing to or closing a closed buffer.
	ErrClosed = errors.New("ipc: buffer closed")
	// ErrReplyTooLarge is returned when a reply does not fit a signal's channel.
	ErrReplyTooLarge = errors.New("ipc: reply exceeds signal capacity")
)

// Buffer is a fixed-capacity ring of bytes shared by any number of Pipe
// handles. Cursors are atomics so the fast path never takes a lock; the
// per-side mutexes keep one writer's chunk contiguous and hand each reader
// a disjoint slice of the stream.
//
// The ring has capacity+2 slots: capacity for data, one for the tombstone,
// and one kept empty so a full ring is distinguishable from an empty one.
type Buffer struct {
	data     []byte
	size     int64
	capacity int64

	readPos  atomic.Int64
	writePos atomic.Int64
	eofPos   atomic.Int64 // -1 until Close posts the tombstone
	closed   atomic.Bool

	readMu  sync.Mutex
	writeMu sync.Mutex

	readable *notifier
	writable *notifier
}

// NewBuffer creates a buffer holding up to capacity unread bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{
		data:     make([]byte, capacity+2),
		size:     int64(capacity + 2),
		capacity: int64(capacity),
		readable: newNotifier(),
		writable: newNotifier(),
	}
	b.eofPos.Store(-1)
	return b
}

// Cap returns the number of bytes the buffer can hold at once.
func (b *Buffer) Cap() int {
	return int(b.capacity)
}

// Len returns the number of unread data bytes. The tombstone is not counted.
func (b *Buffer) Len() int {
	n, _ := b.available()
	return n
}

// Closed reports whether the tombstone has been posted.
func (b *Buffer) Closed() bool {
	return b.closed.Load()
}

// available returns the readable data bytes and whether the tombstone
// sits right after them. The write cursor is loaded before eofPos: Close
// stores eofPos first, so a published tombstone always has a visible eofPos.
func (b *Buffer) available() (int, bool) {
	w := b.writePos.Load()
	r := b.readPos.Load()
	e := b.eofPos.Load()

	used := (w - r + b.size) % b.size
	if e >= 0 {
		if d := (e - r + b.size) % b.size; d < used {
			return int(d), true
		}
	}
	return int(used), false
}

// free returns how many data bytes fit after w. The tombstone slot is never
// handed out to data.
func (b *Buffer) free(w int64) int {
	r := b.readPos.Load()
	return int(b.capacity - (w-r+b.size)%b.size)
}

func (b *Buffer) put(w int64, chunk []byte) {
	k := copy(b.data[w:], chunk)
	copy(b.data, chunk[k:])
}

// Write appends p, blocking while the ring is full. Bytes of one call are
// never interleaved with another writer's.
func (b *Buffer) Write(ctx context.Context, p []byte) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.closed.Load() {
		return 0, ErrClosed
	}

	written := 0
	for written < len(p) {
		ready := b.writable.watch()
		w := b.writePos.Load()
		free := b.free(w)
		if free == 0 {
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return written, ctx.Err()
			}
		}

		n := min(free, len(p)-written)
		b.put(w, p[written:written+n])
		b.writePos.Store((w + int64(n)) % b.size)
		written += n
		b.readable.broadcast()
	}
	return written, nil
}

// Close posts the EOF tombstone into its reserved slot. It never blocks,
// even on a full ring.
func (b *Buffer) Close() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.closed.Load() {
		return ErrClosed
	}

	w := b.writePos.Load()
	b.data[w] = EOF
	b.eofPos.Store(w)
	b.closed.Store(true)
	b.writePos.Store((w + 1) % b.size)
	b.readable.broadcast()
	return nil
}

// take consumes up to len(p) bytes, stopping after delim when delim >= 0.
// It blocks until at least one byte is readable or the tombstone is reached.
// Callers hold readMu.
func (b *Buffer) take(ctx context.Context, p []byte, delim int) (int, error) {
	for {
		ready := b.readable.watch()
		n, eof := b.available()
		if n > 0 {
			n = min(n, len(p))
			r := b.readPos.Load()
			k := 0
			for k < n {
				c := b.data[(r+int64(k))%b.size]
				p[k] = c
				k++
				if delim >= 0 && int(c) == delim {
					break
				}
			}
			b.readPos.Store((r + int64(k)) % b.size)
			b.writable.broadcast()
			return k, nil
		}
		if eof {
			return 0, io.EOF
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Read blocks until at least one byte is available, then consumes up to
// len(p) bytes. At end-of-stream it returns 0, io.EOF.
func (b *Buffer) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.readMu.Lock()
	defer b.readMu.Unlock()
	return b.take(ctx, p, -1)
}

// ReadExact blocks until n bytes have been read. If the stream ends first
// it returns the bytes it got together with io.EOF.
func (b *Buffer) ReadExact(ctx context.Context, n int) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	out := make([]byte, n)
	got := 0
	for got < n {
		k, err := b.take(ctx, out[got:], -1)
		got += k
		if err != nil {
			return out[:got], err
		}
	}
	return out, nil
}

// ReadAll blocks until end-of-stream and returns everything read.
func (b *Buffer) ReadAll(ctx context.Context) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	var (
		out   []byte
		chunk [512]byte
	)
	for {
		k, err := b.take(ctx, chunk[:], -1)
		out = append(out, chunk[:k]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// ReadLine reads through the next '\n', which is included in the result.
// If the stream ends before a newline the partial line is returned with io.EOF.
func (b *Buffer) ReadLine(ctx context.Context) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	var (
		line  []byte
		chunk [256]byte
	)
	for {
		k, err := b.take(ctx, chunk[:], '\n')
		line = append(line, chunk[:k]...)
		if k > 0 && chunk[k-1] == '\n' {
			return line, nil
		}
		if err != nil {
			return line, err
		}
	}
}

// tryWrite appends p only if all of it fits, without blocking.
func (b *Buffer) tryWrite(p []byte) bool {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.closed.Load() {
		return false
	}
	w := b.writePos.Load()
	if b.free(w) < len(p) {
		return false
	}
	b.put(w, p)
	b.writePos.Store((w + int64(len(p))) % b.size)
	b.readable.broadcast()
	return true
}

// ReadAvailable consumes whatever is queued, up to len(p), without
// blocking. Once the stream has ended and is drained it returns 0, io.EOF.
func (b *Buffer) ReadAvailable(p []byte) (int, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	n, eof := b.available()
	if n == 0 {
		if eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	return b.take(context.Background(), p, -1)
}

// tryRead is ReadAvailable without the end-of-stream report.
func (b *Buffer) tryRead(p []byte) int {
	k, _ := b.ReadAvailable(p)
	return k
}

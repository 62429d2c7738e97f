package terminal

import (
	"sync"
	"time"
)

// Info is the public representation of a session
type Info struct {
	ID        string    `json:"id"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Buffer is a thread-safe circular buffer for terminal output
type Buffer struct {
	data []byte
	size int
	head int
	tail int
	mu   sync.Mutex
}

// NewBuffer creates a new circular buffer
func NewBuffer(size int) *Buffer {
	if size < 2 {
		size = 2
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, overwriting the oldest bytes once full.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size

		// If buffer is full, move head forward
		if b.tail == b.head {
			b.head = (b.head + 1) % b.size
		}
	}
	return len(p), nil
}

// Drain returns everything buffered and empties the buffer.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == b.tail {
		return []byte{}
	}

	var result []byte
	if b.tail > b.head {
		result = append(result, b.data[b.head:b.tail]...)
	} else {
		// Buffer wrapped around
		result = append(result, b.data[b.head:]...)
		result = append(result, b.data[:b.tail]...)
	}
	b.head = b.tail
	return result
}

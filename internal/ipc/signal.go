package ipc

import (
	"context"
	"sync/atomic"
)

// DefaultReplySize is the reply channel capacity used when none is given.
const DefaultReplySize = 32 << 10

// Signal is a counted wake/sleep primitive with an embedded reply channel.
type Signal struct {
	wakes atomic.Int64
	woken *notifier
	reply *Buffer
}

// NewSignal creates a signal whose reply channel holds replySize bytes.
func NewSignal(replySize int) *Signal {
	if replySize <= 0 {
		replySize = DefaultReplySize
	}
	return &Signal{
		woken: newNotifier(),
		reply: NewBuffer(replySize),
	}
}

// Wake queues one wakeup and releases a sleeper if there is one.
func (s *Signal) Wake() {
	s.wakes.Add(1)
	s.woken.broadcast()
}

// Sleep consumes one queued wakeup, blocking until one is available.
func (s *Signal) Sleep(ctx context.Context) error {
	for {
		woken := s.woken.watch()
		if s.consume() {
			return nil
		}
		select {
		case <-woken:
		case <-ctx.Done():
			if s.consume() {
				return nil
			}
			return ctx.Err()
		}
	}
}

// Pending returns the number of queued wakeups.
func (s *Signal) Pending() int64 {
	return s.wakes.Load()
}

func (s *Signal) consume() bool {
	for {
		v := s.wakes.Load()
		if v <= 0 {
			return false
		}
		if s.wakes.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// Write queues r on the reply channel. It never blocks.
func (s *Signal) Write(r Reply) error {
	if !s.reply.tryWrite(r.encode()) {
		return ErrReplyTooLarge
	}
	return nil
}

// Read takes the queued reply, if any. It never blocks.
func (s *Signal) Read() (Reply, bool) {
	return decodeReply(ringReader{buf: s.reply})
}

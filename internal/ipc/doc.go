/*
Package ipc provides the shared-memory primitives processes use to talk to
each other and to the supervisor.

# Buffer and Pipe

A Buffer is a fixed-capacity ring of bytes with a read cursor and a write
cursor. One slot is always kept empty so that a full ring can be told apart
from an empty one. Closing a Buffer appends the EOF tombstone (0xFF). The
tombstone is never consumed: every reader positioned at it observes
end-of-stream, no matter how many times it asks.

A Pipe is a handle over a Buffer. Several handles may share one Buffer; they
then split the stream between them in FIFO order. Rebinding a process's stdin
to another process's stdout is a matter of handing out a new Pipe over the
upstream Buffer.

	buf := ipc.NewBuffer(1024)
	w, r := ipc.NewPipe(buf), ipc.NewPipe(buf)
	go func() {
		w.Write([]byte("hello\n"))
		w.Close()
	}()
	line, _ := r.ReadLine() // "hello\n"

# Signal

A Signal is a wake counter plus a small reply channel. A blocking caller posts
a request, sleeps on its Signal, and reads the reply once woken. The
supervisor answers with Write followed by Wake and never blocks doing so.
Wakes are counted, so a Wake that lands before the matching Sleep is not lost.
*/
package ipc

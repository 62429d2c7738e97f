package ipc

import "context"

// Pipe is a process's handle on a Buffer. Blocking calls give up when the
// handle's context is cancelled, which is how a killed process is unstuck.
type Pipe struct {
	buf *Buffer
	ctx context.Context
}

// NewPipe returns a handle over buf.
func NewPipe(buf *Buffer) *Pipe {
	return &Pipe{buf: buf, ctx: context.Background()}
}

// WithContext returns a handle over the same buffer bound to ctx.
func (p *Pipe) WithContext(ctx context.Context) *Pipe {
	return &Pipe{buf: p.buf, ctx: ctx}
}

// Buffer returns the shared ring behind the handle.
func (p *Pipe) Buffer() *Buffer {
	return p.buf
}

func (p *Pipe) Read(b []byte) (int, error) {
	return p.buf.Read(p.ctx, b)
}

func (p *Pipe) ReadExact(n int) ([]byte, error) {
	return p.buf.ReadExact(p.ctx, n)
}

func (p *Pipe) ReadAll() ([]byte, error) {
	return p.buf.ReadAll(p.ctx)
}

func (p *Pipe) ReadLine() ([]byte, error) {
	return p.buf.ReadLine(p.ctx)
}

func (p *Pipe) Write(b []byte) (int, error) {
	return p.buf.Write(p.ctx, b)
}

// WriteString is a convenience wrapper for Write.
func (p *Pipe) WriteString(s string) (int, error) {
	return p.buf.Write(p.ctx, []byte(s))
}

// Close posts end-of-stream. Later writes fail with ErrClosed.
func (p *Pipe) Close() error {
	return p.buf.Close()
}

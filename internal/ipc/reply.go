package ipc

import (
	"encoding/binary"
	"io"
)

// ReplyKind tags the value carried by a Reply.
type ReplyKind byte

const (
	KindNumber ReplyKind = 'n'
	KindString ReplyKind = 's'
	KindErrno  ReplyKind = 'e'
)

// Reply is the single typed value a supervisor hands back per round trip.
// Errno replies carry a negative error code in Num.
type Reply struct {
	Kind ReplyKind
	Num  int64
	Str  string
}

// Number builds a numeric reply.
func Number(n int64) Reply {
	return Reply{Kind: KindNumber, Num: n}
}

// Text builds a string reply.
func Text(s string) Reply {
	return Reply{Kind: KindString, Str: s}
}

// Errno builds an error reply from a wire code.
func Errno(code int) Reply {
	return Reply{Kind: KindErrno, Num: int64(code)}
}

// Int returns the numeric value. For Errno replies this is the negative
// code, which keeps a failed create's reply a negative PID.
func (r Reply) Int() int {
	return int(r.Num)
}

// IsErr reports whether the reply carries an error code.
func (r Reply) IsErr() bool {
	return r.Kind == KindErrno
}

func (r Reply) encode() []byte {
	frame := []byte{byte(r.Kind)}
	switch r.Kind {
	case KindString:
		frame = binary.AppendUvarint(frame, uint64(len(r.Str)))
		frame = append(frame, r.Str...)
	default:
		frame = binary.AppendVarint(frame, r.Num)
	}
	return frame
}

// ringReader drains a buffer without blocking.
type ringReader struct {
	buf *Buffer
}

func (rr ringReader) Read(p []byte) (int, error) {
	if n := rr.buf.tryRead(p); n > 0 {
		return n, nil
	}
	return 0, io.EOF
}

func (rr ringReader) ReadByte() (byte, error) {
	var c [1]byte
	if _, err := rr.Read(c[:]); err != nil {
		return 0, err
	}
	return c[0], nil
}

func decodeReply(rr ringReader) (Reply, bool) {
	tag, err := rr.ReadByte()
	if err != nil {
		return Reply{}, false
	}

	switch r := (Reply{Kind: ReplyKind(tag)}); r.Kind {
	case KindNumber, KindErrno:
		n, err := binary.ReadVarint(rr)
		if err != nil {
			return Reply{}, false
		}
		r.Num = n
		return r, true
	case KindString:
		size, err := binary.ReadUvarint(rr)
		if err != nil {
			return Reply{}, false
		}
		s := make([]byte, size)
		if _, err := io.ReadFull(rr, s); err != nil {
			return Reply{}, false
		}
		r.Str = string(s)
		return r, true
	default:
		return Reply{}, false
	}
}

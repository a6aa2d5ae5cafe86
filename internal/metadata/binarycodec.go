package metadata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// writer wraps a bufio.Writer with the primitive encodings the table
// metadata wire format needs: LEB128 varints (varlong/varint), a
// length-prefixed byte array, and a 2-byte-length-prefixed UTF-8 string.
type writer struct {
	w   *bufio.Writer
	err error
}

func newWriter(w io.Writer) *writer {
	return &writer{w: bufio.NewWriter(w)}
}

func (w *writer) putVarint(v uint64) {
	if w.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, w.err = w.w.Write(buf[:n])
}

func (w *writer) putByte(b byte) {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte(b)
}

func (w *writer) putUTF(s string) {
	if w.err != nil {
		return
	}
	b := []byte(s)
	if len(b) > 0xFFFF {
		w.err = errors.New("metadata: utf string too long")
		return
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	if _, w.err = w.w.Write(lenBuf[:]); w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

func (w *writer) putBytesArray(b []byte) {
	if w.err != nil {
		return
	}
	w.putVarint(uint64(len(b)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

func (w *writer) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// reader is the inverse of writer, reading the same primitives back from a
// byte slice and reporting "corrupted table file" on any framing error
// that Go's encoding/binary surfaces as a bare io error.
type reader struct {
	r   *bytes.Reader
	err error
}

func newReader(data []byte) *reader {
	return &reader{r: bytes.NewReader(data)}
}

func (r *reader) getVarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.err = ErrCorruptedTableFile
		return 0
	}
	return v
}

func (r *reader) getByte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = ErrCorruptedTableFile
	}
	return b
}

func (r *reader) getUTF() string {
	if r.err != nil {
		return ""
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		r.err = ErrCorruptedTableFile
		return ""
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = ErrCorruptedTableFile
		return ""
	}
	return string(buf)
}

func (r *reader) getBytesArray() []byte {
	if r.err != nil {
		return nil
	}
	n := r.getVarint()
	if r.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = ErrCorruptedTableFile
		return nil
	}
	return buf
}

package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Writer is a big-endian byte writer. Length-prefixed regions are written by
// reserving the prefix, writing the body, and committing the measured value.
type Writer struct {
	buf bytes.Buffer
}

// Mark records the offset of a reserved placeholder.
type Mark struct {
	offset int
	size   int
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// U8 writes one byte.
func (w *Writer) U8(v uint8) {
	w.buf.WriteByte(v)
}

// U16 writes a big-endian uint16.
func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// U32 writes a big-endian uint32.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// Write appends raw bytes.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Reserve16 writes a two-byte placeholder.
func (w *Writer) Reserve16() Mark {
	m := Mark{offset: w.buf.Len(), size: 2}
	w.U16(0)
	return m
}

// Reserve32 writes a four-byte placeholder.
func (w *Writer) Reserve32() Mark {
	m := Mark{offset: w.buf.Len(), size: 4}
	w.U32(0)
	return m
}

// Since returns the number of bytes written after the placeholder.
func (w *Writer) Since(m Mark) int {
	return w.buf.Len() - m.offset - m.size
}

// Commit backpatches a reserved placeholder. The value must fit the
// reserved width.
func (w *Writer) Commit(m Mark, value int) error {
	b := w.buf.Bytes()
	switch m.size {
	case 2:
		if value < 0 || value > math.MaxUint16 {
			return fmt.Errorf("%w: %d does not fit u2", ErrAssemblyOverflow, value)
		}
		binary.BigEndian.PutUint16(b[m.offset:], uint16(value))
	case 4:
		if value < 0 || int64(value) > math.MaxUint32 {
			return fmt.Errorf("%w: %d does not fit u4", ErrAssemblyOverflow, value)
		}
		binary.BigEndian.PutUint32(b[m.offset:], uint32(value))
	default:
		return fmt.Errorf("commit: invalid mark size %d", m.size)
	}
	return nil
}

// CommitLength backpatches m with the number of bytes written since it.
func (w *Writer) CommitLength(m Mark) error {
	return w.Commit(m, w.Since(m))
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

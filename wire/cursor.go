// Package wire implements the fixed-width little-endian framing shared by every snapshot,
// correction and input message. All fields are 4-byte aligned: booleans occupy one byte followed
// by three bytes of padding, and variable-length byte runs are padded up to the next multiple
// of four.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
)

// ErrOverrun is returned when a read would run past the end of the buffer.
var ErrOverrun = eris.New("read past end of buffer")

// WordSize is the alignment unit of every field.
const WordSize = 4

// Cursor is a forward-only reader over a single message buffer. The first failed read records an
// error and every later read returns a zero value, so decode code can read a whole record and
// check Err once at the end.
type Cursor struct {
	buf []byte
	off int
	err error
}

// NewCursor returns a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Reset repositions the cursor at the start of buf and clears any recorded error.
func (c *Cursor) Reset(buf []byte) {
	c.buf = buf
	c.off = 0
	c.err = nil
}

// Err returns the first error recorded by the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int {
	return c.off
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Done reports whether the whole buffer has been consumed without error.
func (c *Cursor) Done() bool {
	return c.err == nil && c.off == len(c.buf)
}

// take returns the next n bytes and advances, or records an overrun.
func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > len(c.buf)-c.off {
		c.err = eris.Wrapf(ErrOverrun, "need %d bytes at offset %d, have %d", n, c.off, len(c.buf)-c.off)
		c.off = len(c.buf)
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *Cursor) U32() uint32 {
	b := c.take(WordSize)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *Cursor) I32() int32 {
	return int32(c.U32()) //nolint:gosec // two's complement reinterpretation
}

func (c *Cursor) F32() float32 {
	return math.Float32frombits(c.U32())
}

// Bool reads a one-byte boolean and its three padding bytes.
func (c *Cursor) Bool() bool {
	b := c.take(WordSize)
	if b == nil {
		return false
	}
	return b[0] != 0
}

// Bytes reads n bytes followed by padding to the next word boundary. The returned slice aliases
// the underlying buffer.
func (c *Cursor) Bytes(n int) []byte {
	b := c.take(n)
	if b == nil {
		return nil
	}
	c.take(Pad(n) - n)
	if c.err != nil {
		return nil
	}
	return b
}

// Skip advances the cursor by n bytes without interpreting them.
func (c *Cursor) Skip(n int) {
	c.take(n)
}

// Pad rounds n up to the next multiple of WordSize.
func Pad(n int) int {
	return (n + WordSize - 1) &^ (WordSize - 1)
}

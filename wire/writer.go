package wire

import (
	"encoding/binary"
	"math"
)

// Writer appends fields in the same layout Cursor reads them.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer whose buffer has the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) I32(v int32) *Writer {
	return w.U32(uint32(v)) //nolint:gosec // two's complement reinterpretation
}

func (w *Writer) F32(v float32) *Writer {
	return w.U32(math.Float32bits(v))
}

func (w *Writer) Bool(v bool) *Writer {
	var b byte
	if v {
		b = 1
	}
	w.buf = append(w.buf, b, 0, 0, 0)
	return w
}

// Bytes appends b followed by zero padding to the next word boundary. The length is not written.
func (w *Writer) Bytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	for range Pad(len(b)) - len(b) {
		w.buf = append(w.buf, 0)
	}
	return w
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Data returns the written bytes. The slice is owned by the writer until Reset.
func (w *Writer) Data() []byte {
	return w.buf
}

// Reset truncates the buffer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

package safecodec

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer appends the wire encoding of values to a growing buffer. It tracks the
// first error that occurs; after an error, all subsequent write operations
// become no-ops.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer appending to buf[:0].
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Err() error    { return w.err }

// Result returns the encoded bytes and the latched error.
func (w *Writer) Result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Reset discards the written bytes and the latched error, keeping capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// setError records the first non-nil error.
// This preserves the root cause of a failure chain instead of a later,
// less relevant error.
func (w *Writer) setError(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

// WriteRaw appends b verbatim, without a length prefix.
func (w *Writer) WriteRaw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// --- Primitive Write Operations ---

func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = Order.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	if w.err != nil {
		return
	}
	w.buf = Order.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteInt64(v int64) {
	if w.err != nil {
		return
	}
	w.buf = Order.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteFloat64(v float64) {
	if w.err != nil {
		return
	}
	w.buf = Order.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUvarint(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = protowire.AppendVarint(w.buf, v)
}

// WriteLength appends a u32 length prefix.
func (w *Writer) WriteLength(n int) {
	if w.err != nil {
		return
	}
	if !fitsLength(n) {
		w.err = ErrMalformedLength
		return
	}
	w.WriteUint32(uint32(n))
}

// WriteString appends a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WriteLength(len(s))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, s...)
}

// WriteBytes appends a length-prefixed byte array.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteLength(len(b))
	w.WriteRaw(b)
}

// BeginLength reserves a u32 length prefix and returns its offset. The
// matching EndLength patches in the number of bytes written since.
func (w *Writer) BeginLength() int {
	if w.err != nil {
		return -1
	}
	mark := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return mark
}

func (w *Writer) EndLength(mark int) {
	if w.err != nil || mark < 0 {
		return
	}
	n := len(w.buf) - mark - lengthSize
	if !fitsLength(n) {
		w.err = ErrMalformedLength
		return
	}
	Order.PutUint32(w.buf[mark:], uint32(n))
}

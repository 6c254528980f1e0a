package safecodec

import (
	"bytes"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Reader is a cursor over an in-memory record buffer. It tracks the first error
// encountered; once an error is latched, every subsequent read is a no-op and
// leaves its destination unchanged.
//
// Every length prefix read through a Reader is bounded against the remaining
// input, and charged to the Budget when one is attached, before anything is
// allocated for it.
type Reader struct {
	b      []byte
	n      int   // current read position
	err    error // first error encountered
	budget *Budget
}

// NewReader creates a Reader over b. The Reader never modifies b; values that
// outlive the read (strings, byte arrays) are copied out.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

func newBudgetReader(b []byte, budget *Budget) *Reader {
	return &Reader{b: b, budget: budget}
}

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Offset() int    { return r.n }
func (r *Reader) Remaining() int { return len(r.b) - r.n }

// Result returns the number of bytes consumed and the latched error.
func (r *Reader) Result() (int, error) { return r.n, r.err }

// setError records the first non-nil error.
func (r *Reader) setError(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

// take returns a view of the next n bytes and advances the cursor.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.err = ErrTruncatedStream
		return nil
	}
	b := r.b[r.n : r.n+n]
	r.n += n
	return b
}

// ReadRaw copies the next len(dest) bytes into dest.
func (r *Reader) ReadRaw(dest []byte) {
	if b := r.take(len(dest)); r.err == nil {
		copy(dest, b)
	}
}

// --- Primitive Read Operations ---

func (r *Reader) ReadUint8(dest *uint8) {
	if b := r.take(1); r.err == nil {
		*dest = b[0]
	}
}

func (r *Reader) ReadUint32(dest *uint32) {
	if b := r.take(4); r.err == nil {
		*dest = Order.Uint32(b)
	}
}

func (r *Reader) ReadInt32(dest *int32) {
	if b := r.take(4); r.err == nil {
		*dest = int32(Order.Uint32(b))
	}
}

func (r *Reader) ReadInt64(dest *int64) {
	if b := r.take(8); r.err == nil {
		*dest = int64(Order.Uint64(b))
	}
}

func (r *Reader) ReadFloat64(dest *float64) {
	if b := r.take(8); r.err == nil {
		*dest = math.Float64frombits(Order.Uint64(b))
	}
}

// ReadBool accepts only the canonical encodings 0 and 1.
func (r *Reader) ReadBool(dest *bool) {
	b := r.take(1)
	if r.err != nil {
		return
	}
	switch b[0] {
	case 0:
		*dest = false
	case 1:
		*dest = true
	default:
		r.err = ErrInvalidValue
	}
}

// ReadUvarint reads a protobuf-style base-128 varint.
func (r *Reader) ReadUvarint(dest *uint64) {
	if r.err != nil {
		return
	}
	v, n := protowire.ConsumeVarint(r.b[r.n:])
	if n < 0 {
		r.err = varintError(r.b[r.n:])
		return
	}
	r.n += n
	*dest = v
}

// varintError tells a varint cut off by the end of the buffer apart from one
// that can never terminate inside the 64-bit range.
func varintError(rest []byte) error {
	if len(rest) >= maxVarintLen {
		return ErrMalformedLength
	}
	for _, c := range rest {
		if c < 0x80 {
			return ErrMalformedLength
		}
	}
	return ErrTruncatedStream
}

// ReadLength reads a u32 length prefix for a variable-size value and checks it
// against MaxLength, the remaining input and the Budget. It returns -1 after
// an error.
func (r *Reader) ReadLength() int {
	var l uint32
	r.ReadUint32(&l)
	if r.err != nil {
		return -1
	}
	if uint64(l) > MaxLength {
		r.err = ErrMalformedLength
		return -1
	}
	if int(l) > r.Remaining() {
		r.err = ErrTruncatedStream
		return -1
	}
	if r.budget != nil {
		if err := r.budget.Charge(int64(l)); err != nil {
			r.err = err
			return -1
		}
	}
	return int(l)
}

// ReadCount reads a u32 element count. The count is rejected as malformed when
// count*elemSize exceeds the remaining input, so no allocation is ever sized by
// an unbounded count.
func (r *Reader) ReadCount(elemSize int) int {
	var c uint32
	r.ReadUint32(&c)
	if r.err != nil {
		return -1
	}
	if elemSize < 1 {
		elemSize = 1
	}
	if uint64(c)*uint64(elemSize) > uint64(r.Remaining()) {
		r.err = ErrMalformedLength
		return -1
	}
	return int(c)
}

// ReadString reads a length-prefixed UTF-8 string. The result never aliases the
// input buffer.
func (r *Reader) ReadString(dest *string) {
	n := r.ReadLength()
	b := r.take(n)
	if r.err != nil {
		return
	}
	if !utf8.Valid(b) {
		r.err = ErrInvalidValue
		return
	}
	*dest = string(b)
}

// ReadBytes reads a length-prefixed byte array into a freshly allocated slice.
func (r *Reader) ReadBytes(dest *[]byte) {
	n := r.ReadLength()
	b := r.take(n)
	if r.err != nil {
		return
	}
	*dest = bytes.Clone(b)
	if *dest == nil {
		*dest = []byte{}
	}
}

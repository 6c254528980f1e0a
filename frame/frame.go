// Package frame moves safecodec records over byte streams. It extracts
// exactly one header and payload at a time, bounding the declared length
// before a buffer is allocated for it, and optionally wraps record batches in
// a size-capped compression envelope.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/oy3o/safecodec"
)

var (
	// ErrTooLarge is returned when a frame or a decompressed envelope exceeds
	// the caller's cap. It is a policy error.
	ErrTooLarge = fmt.Errorf("%w: frame too large", safecodec.ErrBudgetExceeded)

	// ErrUnknownCompression is returned for an envelope tag this package does
	// not implement.
	ErrUnknownCompression = fmt.Errorf("%w: unknown compression", safecodec.ErrInvalidValue)

	// ErrCorrupt is returned when a compressed body does not decompress to the
	// length its envelope declares.
	ErrCorrupt = fmt.Errorf("%w: corrupt envelope", safecodec.ErrInvalidValue)
)

// maxHeaderSize is two maximal varints and the length prefix.
const maxHeaderSize = 10 + 10 + 4

// Reader reads whole records from a stream.
type Reader struct {
	br         *bufio.Reader
	maxPayload uint32
	hdr        []byte
}

// NewReader reads records whose payload is at most maxPayload bytes.
func NewReader(r io.Reader, maxPayload uint32) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{br: br, maxPayload: maxPayload, hdr: make([]byte, 0, maxHeaderSize)}
}

// Next returns the next record, header included, ready for
// safecodec.Registry.Decode. It returns io.EOF at a clean end of stream and
// ErrTruncatedStream when the stream ends inside a record.
func (r *Reader) Next() ([]byte, error) {
	r.hdr = r.hdr[:0]
	for range 2 {
		if err := r.readVarint(); err != nil {
			if errors.Is(err, io.EOF) && len(r.hdr) == 0 {
				return nil, io.EOF
			}
			return nil, truncated(err)
		}
	}
	var length [4]byte
	if _, err := io.ReadFull(r.br, length[:]); err != nil {
		return nil, truncated(err)
	}
	r.hdr = append(r.hdr, length[:]...)

	h, n, err := safecodec.DecodeHeader(r.hdr)
	if err != nil {
		return nil, err
	}
	if h.Length > r.maxPayload {
		return nil, fmt.Errorf("%w: payload %d, cap %d", ErrTooLarge, h.Length, r.maxPayload)
	}
	rec := make([]byte, n+int(h.Length))
	copy(rec, r.hdr)
	if _, err := io.ReadFull(r.br, rec[n:]); err != nil {
		return nil, truncated(err)
	}
	return rec, nil
}

func (r *Reader) readVarint() error {
	for i := 0; i < 10; i++ {
		c, err := r.br.ReadByte()
		if err != nil {
			return err
		}
		r.hdr = append(r.hdr, c)
		if c < 0x80 {
			return nil
		}
	}
	return safecodec.ErrMalformedLength
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return safecodec.ErrTruncatedStream
	}
	return err
}

// ReadRecord reads a single record from r. See Reader.Next.
func ReadRecord(r io.Reader, maxPayload uint32) ([]byte, error) {
	return NewReader(r, maxPayload).Next()
}

// WriteRecord writes one encoded record to w after checking that rec is
// exactly one header and the payload it declares.
func WriteRecord(w io.Writer, rec []byte) error {
	h, n, err := safecodec.DecodeHeader(rec)
	if err != nil {
		return err
	}
	if want := n + int(h.Length); len(rec) != want {
		if len(rec) < want {
			return safecodec.ErrTruncatedStream
		}
		return safecodec.ErrTrailingData
	}
	_, err = w.Write(rec)
	return err
}

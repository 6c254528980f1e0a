package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/oy3o/safecodec"
)

// Compression identifies the algorithm of an envelope. Values are wire
// constants.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression is the inverse of Compression.String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// envelopeHeaderSize is the tag byte and the u32 decompressed length.
const envelopeHeaderSize = 1 + 4

// zstdEncoder is safe for concurrent EncodeAll calls. Decoders are created
// per call because streaming decode is not.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("frame: zstd encoder initialization failed: " + err.Error())
	}
}

// Compress wraps data in an envelope:
//
//	envelope := tag:u8 rawLength:u32 body
//
// Incompressible data is stored with CompressionNone whatever c asks for.
func Compress(data []byte, c Compression) ([]byte, error) {
	if uint64(len(data)) > safecodec.MaxLength {
		return nil, safecodec.ErrMalformedLength
	}
	var body []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 && n < len(data) {
			body = dst[:n]
		}
	case CompressionZstd:
		if out := zstdEncoder.EncodeAll(data, nil); len(out) < len(data) {
			body = out
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, c)
	}
	if body == nil {
		c, body = CompressionNone, data
	}
	env := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(body))
	env[0] = byte(c)
	safecodec.Order.PutUint32(env[1:], uint32(len(data)))
	return append(env, body...), nil
}

// Decompress opens an envelope. The declared length is checked against
// maxSize before anything is allocated, and the body is never allowed to
// expand past the declared length.
func Decompress(env []byte, maxSize int) ([]byte, error) {
	if len(env) < envelopeHeaderSize {
		return nil, safecodec.ErrTruncatedStream
	}
	c := Compression(env[0])
	size := safecodec.Order.Uint32(env[1:])
	body := env[envelopeHeaderSize:]
	if int64(size) > int64(maxSize) {
		return nil, fmt.Errorf("%w: envelope declares %d bytes, cap %d", ErrTooLarge, size, maxSize)
	}
	switch c {
	case CompressionNone:
		if len(body) != int(size) {
			return nil, ErrCorrupt
		}
		return bytes.Clone(body), nil
	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil || n != int(size) {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		return dst, nil
	case CompressionZstd:
		return decompressZstd(body, size)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, c)
	}
}

// decompressZstd streams the body through a LimitedReader so a frame that
// lies about its content size still cannot expand past size.
func decompressZstd(body []byte, size uint32) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(body), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	defer dec.Close()
	out := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := out.ReadFrom(LimitReader(dec, int64(size))); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%w: zstd body expands past %d bytes", ErrTooLarge, size)
		}
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	if out.Len() != int(size) {
		return nil, ErrCorrupt
	}
	return out.Bytes(), nil
}

package safecodec

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// Order is the byte order of every fixed-width value on the wire.
var Order = binary.BigEndian

const (
	// MaxLength is the largest length prefix a reader accepts for a single
	// string, byte array, list or record payload. Anything above it is rejected
	// as malformed before the remaining input is even consulted.
	MaxLength = 1<<31 - 1

	// FingerprintSize is the number of fingerprint bytes carried by each
	// record payload.
	FingerprintSize = 8

	lengthSize = 4

	// maxVarintLen bounds a uvarint to the 64-bit range.
	maxVarintLen = 10

	// minRecordSize is the smallest possible nested record: two one-byte
	// varints and a length prefix.
	minRecordSize = 1 + 1 + lengthSize
)

// within reports whether n fits under limit, where a non-positive limit means
// the dimension is not capped.
func within[T constraints.Integer](n, limit T) bool { return limit <= 0 || n <= limit }

// fitsLength reports whether n can be written as a length prefix.
func fitsLength[T constraints.Integer](n T) bool { return n >= 0 && uint64(n) <= MaxLength }

// minEncodedSize is the fewest bytes one value of kind k can occupy on the wire.
// It bounds element counts against the remaining input before allocation.
func minEncodedSize(k Kind) int {
	switch k {
	case KindBool:
		return 1
	case KindInt32, KindString, KindBytes, KindList:
		return 4
	case KindInt64, KindFloat64:
		return 8
	case KindRecord:
		return minRecordSize
	default:
		return 1
	}
}

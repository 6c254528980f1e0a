// Package safecodec encodes and decodes schema-declared records to and from a
// versioned binary form, and refuses to trust anything it decodes until the
// value has been admitted by policy, defensively copied and checked.
//
// A record type is declared once at process start with a SchemaBuilder, bound
// to an application type with Define, and registered in a Registry. Decoding
// always runs header first: the TypeID is checked against an AllowList and the
// payload length against a Budget before a single field byte is read.
//
// # Record Format
//
//	record  := typeID:uvarint version:uvarint length:u32 payload[length]
//	payload := fingerprint[8] bitsetLen:uvarint bitset field*
//
// Fixed-width numbers are big-endian. Strings and byte arrays carry a u32
// length prefix, lists a u32 element count, and nested records use the same
// header form as a top-level record. The bitset has one bit per optional field
// in declared order; required fields are always present.
//
// # Thread Safety
//
// A sealed Registry is read-only and safe for concurrent use. Each Decode call
// owns its own Budget and cursor, so independent calls may run in parallel.
package safecodec

import "fmt"

// TypeID identifies a record type across versions. It is never reused for a
// semantically different shape.
type TypeID uint64

// SchemaVersion increases monotonically per TypeID.
type SchemaVersion uint32

// Kind is the wire kind of a declared field.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt32
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindBytes
	KindRecord
	KindList
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat64: "float64",
	KindBool:    "bool",
	KindString:  "string",
	KindBytes:   "bytes",
	KindRecord:  "record",
	KindList:    "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindInvalid {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, name)
}

func (k Kind) primitive() bool { return k >= KindInt32 && k <= KindBytes }

// Header is the part of a record read before admission control runs.
type Header struct {
	TypeID  TypeID
	Version SchemaVersion
	Length  uint32
}

// DecodeHeader reads just the record header from data and returns it with the
// number of bytes consumed. No payload byte is touched, and the payload length
// is not checked against the remaining input.
func DecodeHeader(data []byte) (Header, int, error) {
	r := NewReader(data)
	h := readHeader(r)
	n, err := r.Result()
	if err != nil {
		return Header{}, n, err
	}
	return h, n, nil
}

func readHeader(r *Reader) Header {
	var id, version uint64
	var length uint32
	r.ReadUvarint(&id)
	r.ReadUvarint(&version)
	r.ReadUint32(&length)
	if r.err == nil && version > uint64(^SchemaVersion(0)) {
		r.err = ErrMalformedLength
	}
	if r.err == nil && uint64(length) > MaxLength {
		r.err = ErrMalformedLength
	}
	return Header{TypeID: TypeID(id), Version: SchemaVersion(version), Length: length}
}

// AppendHeader appends the encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	w := Writer{buf: dst}
	w.WriteUvarint(uint64(h.TypeID))
	w.WriteUvarint(uint64(h.Version))
	w.WriteUint32(h.Length)
	return w.buf
}

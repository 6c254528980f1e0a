package safecodec

import (
	"bytes"
	"fmt"
	"math"
)

// Raw field values use one canonical Go type per kind:
//
//	KindInt32   int32
//	KindInt64   int64
//	KindFloat64 float64
//	KindBool    bool
//	KindString  string
//	KindBytes   []byte
//	KindRecord  the referenced type's application value
//	KindList    []any of element values

func writePrimitive(w *Writer, k Kind, v any) {
	switch k {
	case KindInt32:
		w.WriteInt32(v.(int32))
	case KindInt64:
		w.WriteInt64(v.(int64))
	case KindFloat64:
		w.WriteFloat64(v.(float64))
	case KindBool:
		w.WriteBool(v.(bool))
	case KindString:
		w.WriteString(v.(string))
	case KindBytes:
		w.WriteBytes(v.([]byte))
	default:
		w.setError(fmt.Errorf("%w: %s is not a primitive kind", ErrInvalidDescriptor, k))
	}
}

func readPrimitive(r *Reader, k Kind) any {
	switch k {
	case KindInt32:
		var v int32
		r.ReadInt32(&v)
		return v
	case KindInt64:
		var v int64
		r.ReadInt64(&v)
		return v
	case KindFloat64:
		var v float64
		r.ReadFloat64(&v)
		return v
	case KindBool:
		var v bool
		r.ReadBool(&v)
		return v
	case KindString:
		var v string
		r.ReadString(&v)
		return v
	case KindBytes:
		var v []byte
		r.ReadBytes(&v)
		return v
	default:
		r.setError(fmt.Errorf("%w: %s is not a primitive kind", ErrInvalidDescriptor, k))
		return nil
	}
}

// checkPrimitive reports whether v has the canonical Go type for kind k.
func checkPrimitive(k Kind, v any) bool {
	switch k {
	case KindInt32:
		_, ok := v.(int32)
		return ok
	case KindInt64:
		_, ok := v.(int64)
		return ok
	case KindFloat64:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBytes:
		_, ok := v.([]byte)
		return ok
	}
	return false
}

// cloneValue deep-copies the mutable containers of a raw value. Nested
// application values are returned as is; they were produced by their own
// decode pipeline and are already exclusively owned.
func cloneValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return bytes.Clone(v)
	case []any:
		if v == nil {
			return nil
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case *Fields:
		return v.Clone()
	default:
		return v
	}
}

// normalizeDefault converts a declared default into the canonical type for the
// field's kind. A nil default means the zero value of the kind.
func normalizeDefault(f FieldDescriptor) (any, error) {
	d := f.Default
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w: field %q: default %T does not match kind %s", ErrInvalidDescriptor, f.Name, d, f.Kind)
	}
	switch f.Kind {
	case KindInt32:
		switch v := d.(type) {
		case nil:
			return int32(0), nil
		case int32:
			return v, nil
		case int:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return bad()
			}
			return int32(v), nil
		}
	case KindInt64:
		switch v := d.(type) {
		case nil:
			return int64(0), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		}
	case KindFloat64:
		switch v := d.(type) {
		case nil:
			return float64(0), nil
		case float64:
			return v, nil
		}
	case KindBool:
		switch v := d.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		}
	case KindString:
		switch v := d.(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		}
	case KindBytes:
		switch v := d.(type) {
		case nil:
			return []byte(nil), nil
		case []byte:
			return bytes.Clone(v), nil
		}
	case KindRecord, KindList:
		// Absent records and lists have no value beyond "absent".
		if d == nil {
			return nil, nil
		}
	}
	return bad()
}

// isDefault reports whether v equals the field's default, for OmitDefault.
func isDefault(f *FieldDescriptor, v any) bool {
	switch f.Kind {
	case KindBytes:
		return bytes.Equal(v.([]byte), f.Default.([]byte))
	case KindList:
		l, _ := v.([]any)
		return len(l) == 0
	case KindRecord:
		return v == nil
	case KindFloat64:
		// Compare bits so that a NaN default can still be omitted.
		return math.Float64bits(v.(float64)) == math.Float64bits(f.Default.(float64))
	default:
		return v == f.Default
	}
}

// AppendValue appends the wire encoding of a primitive value of kind k.
func AppendValue(dst []byte, k Kind, v any) ([]byte, error) {
	if !checkPrimitive(k, v) {
		return dst, fmt.Errorf("%w: %T is not a %s value", ErrTypeMismatch, v, k)
	}
	w := Writer{buf: dst}
	writePrimitive(&w, k, v)
	if w.err != nil {
		return dst, w.err
	}
	return w.buf, nil
}

// ParseValue decodes exactly one primitive value of kind k from data.
func ParseValue(data []byte, k Kind) (any, error) {
	if !k.primitive() {
		return nil, fmt.Errorf("%w: %s is not a primitive kind", ErrInvalidDescriptor, k)
	}
	r := NewReader(data)
	v := readPrimitive(r, k)
	if r.err != nil {
		return nil, r.err
	}
	if r.Remaining() > 0 {
		return nil, ErrTrailingData
	}
	return v, nil
}

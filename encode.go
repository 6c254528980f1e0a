package safecodec

import (
	"bytes"
	"fmt"
)

// Encode writes v as a record of type id, using the newest registered version.
// The invariant is checked first; a value that fails it is never written.
func (r *Registry) Encode(v any, id TypeID) ([]byte, error) {
	w := getWriter()
	defer putWriter(w)
	if err := r.encodeTo(w, v, id); err != nil {
		return nil, err
	}
	return bytes.Clone(w.buf), nil
}

// EncodeStream writes each of values as a record of type id, back to back, in
// the form DecodeStream reads.
func (r *Registry) EncodeStream(values []any, id TypeID) ([]byte, error) {
	w := getWriter()
	defer putWriter(w)
	for _, v := range values {
		if err := r.encodeTo(w, v, id); err != nil {
			return nil, err
		}
	}
	return bytes.Clone(w.buf), nil
}

// AppendRecord appends the encoding of v to dst.
func (r *Registry) AppendRecord(dst []byte, v any, id TypeID) ([]byte, error) {
	w := &Writer{buf: dst}
	if err := r.encodeTo(w, v, id); err != nil {
		return dst, err
	}
	return w.buf, nil
}

func (r *Registry) encodeTo(w *Writer, v any, id TypeID) error {
	if _, ok := r.latest.Load(id); !ok {
		return &SchemaError{TypeID: id, Err: ErrUnregisteredType}
	}
	e := encoder{reg: r, w: w}
	e.record(v, id)
	if w.err != nil {
		r.log.Debug().Err(w.err).Uint64("type_id", uint64(id)).Msg("encode failed")
	}
	return w.err
}

type encoder struct {
	reg   *Registry
	w     *Writer
	depth int
}

func (e *encoder) record(v any, id TypeID) {
	w := e.w
	if w.err != nil {
		return
	}
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.reg.maxDepth {
		w.setError(&BudgetError{Dimension: "depth", Limit: int64(e.reg.maxDepth)})
		return
	}
	b, ok := e.reg.latest.Load(id)
	if !ok {
		w.setError(&SchemaError{TypeID: id, Err: ErrUnregisteredType})
		return
	}
	if err := b.check(v); err != nil {
		w.setError(err)
		return
	}
	f, err := b.toFields(v)
	if err != nil {
		w.setError(err)
		return
	}
	desc := b.Descriptor()

	bits := make([]byte, (desc.optionals+7)/8)
	for i := range desc.fields {
		fd := &desc.fields[i]
		bit := desc.bits[i]
		switch {
		case bit < 0 && !f.present[i]:
			w.setError(&SchemaError{TypeID: desc.id, Name: desc.name, ReaderVersion: desc.version,
				Field: fd.Name, Err: fmt.Errorf("%w: required field not set", ErrTypeMismatch)})
			return
		case bit < 0:
		case f.present[i] && !(fd.OmitDefault && isDefault(fd, f.values[i])):
			bits[bit/8] |= 1 << (bit % 8)
		default:
			f.present[i] = false
		}
	}

	w.WriteUvarint(uint64(desc.id))
	w.WriteUvarint(uint64(desc.version))
	mark := w.BeginLength()
	short := desc.fingerprint.Short()
	w.WriteRaw(short[:])
	w.WriteUvarint(uint64(len(bits)))
	w.WriteRaw(bits)
	for i := range desc.fields {
		if f.present[i] {
			e.value(&desc.fields[i], f.values[i])
		}
	}
	w.EndLength(mark)
}

func (e *encoder) value(f *FieldDescriptor, v any) {
	switch f.Kind {
	case KindRecord:
		e.record(v, f.Ref)
	case KindList:
		e.list(f, v.([]any))
	default:
		writePrimitive(e.w, f.Kind, v)
	}
}

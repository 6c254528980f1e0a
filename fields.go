package safecodec

import (
	"fmt"
	"math"
)

// Fields holds the raw values of one record in descriptor order. During a
// decode call it is the transient, not-yet-trusted form of a record and is
// owned by that call alone. A type registered without hooks (DefineFields)
// uses Fields itself as its logical form.
type Fields struct {
	desc    *Descriptor
	values  []any
	present []bool
}

// NewFields returns an empty record of shape desc.
func NewFields(desc *Descriptor) *Fields {
	return &Fields{
		desc:    desc,
		values:  make([]any, len(desc.fields)),
		present: make([]bool, len(desc.fields)),
	}
}

func (f *Fields) Descriptor() *Descriptor { return f.desc }

// Has reports whether name was set, as opposed to defaulted or absent.
func (f *Fields) Has(name string) bool {
	i, ok := f.desc.index[name]
	return ok && f.present[i]
}

// Get returns a copy of the value of name.
func (f *Fields) Get(name string) (any, bool) {
	i, ok := f.desc.index[name]
	if !ok || f.values[i] == nil {
		return nil, false
	}
	return cloneValue(f.values[i]), true
}

// Set stores v under name after checking it against the declared kind. Mutable
// values are stored as given; use Clone for an independent copy.
func (f *Fields) Set(name string, v any) error {
	i, ok := f.desc.index[name]
	if !ok {
		return &SchemaError{TypeID: f.desc.id, Name: f.desc.name, ReaderVersion: f.desc.version, Field: name,
			Err: fmt.Errorf("%w: no such field", ErrTypeMismatch)}
	}
	fd := &f.desc.fields[i]
	if err := checkFieldValue(fd, v); err != nil {
		return &SchemaError{TypeID: f.desc.id, Name: f.desc.name, ReaderVersion: f.desc.version, Field: name, Err: err}
	}
	f.values[i] = v
	f.present[i] = true
	return nil
}

// Clone returns a deep copy whose mutable containers share nothing with f.
func (f *Fields) Clone() *Fields {
	if f == nil {
		return nil
	}
	c := &Fields{
		desc:    f.desc,
		values:  make([]any, len(f.values)),
		present: make([]bool, len(f.present)),
	}
	copy(c.present, f.present)
	for i, v := range f.values {
		c.values[i] = cloneValue(v)
	}
	return c
}

// Reader returns a FieldReader over f.
func (f *Fields) Reader() *FieldReader { return &FieldReader{f: f} }

// checkFieldValue verifies that v has the canonical shape of fd's kind. Nested
// record values are checked later against the referenced type's binding.
func checkFieldValue(fd *FieldDescriptor, v any) error {
	switch fd.Kind {
	case KindRecord:
		if v == nil {
			return fmt.Errorf("%w: nil record", ErrTypeMismatch)
		}
		return nil
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: list field holds %T", ErrTypeMismatch, v)
		}
		if fd.Elem == KindRecord {
			return nil
		}
		for _, item := range items {
			if !checkPrimitive(fd.Elem, item) {
				return fmt.Errorf("%w: list of %s holds %T", ErrTypeMismatch, fd.Elem, item)
			}
		}
		return nil
	default:
		if !checkPrimitive(fd.Kind, v) {
			return fmt.Errorf("%w: %s field holds %T", ErrTypeMismatch, fd.Kind, v)
		}
		return nil
	}
}

// FieldReader gives decode hooks name-based access to a record's raw values.
// Every accessor returns a fresh copy, so a hook can never alias the decoder's
// containers. The first error is latched and reported by Err; after it,
// accessors return zero values.
type FieldReader struct {
	f   *Fields
	err error
}

func (r *FieldReader) Err() error { return r.err }

// setError records the first non-nil error.
func (r *FieldReader) setError(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *FieldReader) lookup(name string, kind Kind) any {
	if r.err != nil {
		return nil
	}
	d := r.f.desc
	i, ok := d.index[name]
	if !ok {
		r.err = &SchemaError{TypeID: d.id, Name: d.name, ReaderVersion: d.version, Field: name,
			Err: fmt.Errorf("%w: no such field", ErrTypeMismatch)}
		return nil
	}
	if d.fields[i].Kind != kind {
		r.err = &SchemaError{TypeID: d.id, Name: d.name, ReaderVersion: d.version, Field: name,
			Err: fmt.Errorf("%w: field is %s, read as %s", ErrTypeMismatch, d.fields[i].Kind, kind)}
		return nil
	}
	return r.f.values[i]
}

// Has reports whether name was present on the wire rather than defaulted.
func (r *FieldReader) Has(name string) bool { return r.f.Has(name) }

func (r *FieldReader) Int32(name string) int32 {
	v, _ := r.lookup(name, KindInt32).(int32)
	return v
}

func (r *FieldReader) Int64(name string) int64 {
	v, _ := r.lookup(name, KindInt64).(int64)
	return v
}

// Int reads an int32 or int64 field into an int, failing if it does not fit.
func (r *FieldReader) Int(name string) int {
	if r.err != nil {
		return 0
	}
	i, ok := r.f.desc.index[name]
	if ok && r.f.desc.fields[i].Kind == KindInt32 {
		return int(r.Int32(name))
	}
	v := r.Int64(name)
	if v < math.MinInt || v > math.MaxInt {
		r.setError(fmt.Errorf("%w: field %q overflows int", ErrInvalidValue, name))
		return 0
	}
	return int(v)
}

func (r *FieldReader) Float64(name string) float64 {
	v, _ := r.lookup(name, KindFloat64).(float64)
	return v
}

func (r *FieldReader) Bool(name string) bool {
	v, _ := r.lookup(name, KindBool).(bool)
	return v
}

func (r *FieldReader) Text(name string) string {
	v, _ := r.lookup(name, KindString).(string)
	return v
}

func (r *FieldReader) Bytes(name string) []byte {
	v, _ := cloneValue(r.lookup(name, KindBytes)).([]byte)
	return v
}

// List returns a copy of a list field's elements.
func (r *FieldReader) List(name string) []any {
	v, _ := cloneValue(r.lookup(name, KindList)).([]any)
	return v
}

// Record returns the decoded value of a nested record field, or nil when an
// optional record is absent.
func (r *FieldReader) Record(name string) any {
	return r.lookup(name, KindRecord)
}

// Nested returns the nested record field name as its application type T.
// An absent optional record yields the zero T.
func Nested[T any](r *FieldReader, name string) T {
	var zero T
	v := r.Record(name)
	if v == nil {
		return zero
	}
	t, ok := v.(T)
	if !ok {
		r.setError(fmt.Errorf("%w: field %q holds %T, not %T", ErrTypeMismatch, name, v, zero))
		return zero
	}
	return t
}

// FieldWriter collects the logical form of a value for encoding. The first
// error is latched; later calls are no-ops.
type FieldWriter struct {
	f   *Fields
	err error
}

func newFieldWriter(desc *Descriptor) *FieldWriter {
	return &FieldWriter{f: NewFields(desc)}
}

func (w *FieldWriter) Err() error { return w.err }

// setError records the first non-nil error.
func (w *FieldWriter) setError(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

// Set stores an already-canonical value under name.
func (w *FieldWriter) Set(name string, v any) {
	if w.err != nil {
		return
	}
	w.setError(w.f.Set(name, v))
}

func (w *FieldWriter) Int32(name string, v int32)     { w.Set(name, v) }
func (w *FieldWriter) Int64(name string, v int64)     { w.Set(name, v) }
func (w *FieldWriter) Float64(name string, v float64) { w.Set(name, v) }
func (w *FieldWriter) Bool(name string, v bool)       { w.Set(name, v) }
func (w *FieldWriter) Text(name string, v string)     { w.Set(name, v) }
func (w *FieldWriter) List(name string, v []any)      { w.Set(name, v) }

// Bytes stores v. A nil slice is written as an empty byte array.
func (w *FieldWriter) Bytes(name string, v []byte) {
	if v == nil {
		v = []byte{}
	}
	w.Set(name, v)
}

// Record stores a nested record. A nil v leaves an optional record absent.
func (w *FieldWriter) Record(name string, v any) {
	if v == nil {
		return
	}
	w.Set(name, v)
}

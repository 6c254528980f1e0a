package safecodec

import (
	"fmt"
	"reflect"
)

// Binding ties a Descriptor to the application type it encodes. Bindings are
// created with Define or DefineFields and handed to Registry.Register.
type Binding interface {
	Descriptor() *Descriptor

	toFields(v any) (*Fields, error)
	materialize(f *Fields) (any, error)
	check(v any) error
	verify() error
}

// Type is the Binding of one version of a record type to the Go type T.
//
// The hooks are plain functions over T. The decode hook only sees copies of
// the raw field values and its result is copied again before the invariant
// check runs, so nothing it returns can alias the input buffer or the
// decoder's scratch state.
type Type[T any] struct {
	desc   *Descriptor
	encode func(*FieldWriter, T)
	decode func(*FieldReader) T
	copy   func(T) T
	inv    func(T) error
}

var _ Binding = (*Type[struct{}])(nil)

// Define binds desc to T. At least DecodeWith and EncodeWith must be supplied
// before the type can be decoded or encoded.
func Define[T any](desc *Descriptor) *Type[T] {
	return &Type[T]{desc: desc}
}

// DefineFields binds desc to *Fields, the generic logical form. Decoded values
// are deep clones and encoding copies fields by name.
func DefineFields(desc *Descriptor) *Type[*Fields] {
	return Define[*Fields](desc).
		EncodeWith(func(w *FieldWriter, f *Fields) {
			if f == nil {
				w.setError(fmt.Errorf("%w: nil *Fields", ErrTypeMismatch))
				return
			}
			if f.desc.id != desc.id {
				w.setError(&SchemaError{TypeID: desc.id, Name: desc.name, Err: fmt.Errorf("%w: fields of %s",
					ErrTypeMismatch, typeLabel(f.desc.id, f.desc.name))})
				return
			}
			for i := range f.desc.fields {
				if f.present[i] {
					w.Set(f.desc.fields[i].Name, f.values[i])
				}
			}
		}).
		DecodeWith(func(r *FieldReader) *Fields { return r.f.Clone() }).
		CopyWith((*Fields).Clone)
}

// EncodeWith sets the hook that writes a value's logical form.
func (t *Type[T]) EncodeWith(fn func(*FieldWriter, T)) *Type[T] {
	t.encode = fn
	return t
}

// DecodeWith sets the hook that builds a value from decoded fields.
func (t *Type[T]) DecodeWith(fn func(*FieldReader) T) *Type[T] {
	t.decode = fn
	return t
}

// CopyWith sets the defensive copy applied to a freshly decoded value. Without
// it a T implementing Clone() T is cloned; otherwise the value is copied by
// assignment. Assignment is only a copy for value types: Register rejects a
// pointer, slice or map T that has neither.
//
// The copy guards against references the decode hook kept for itself. Values
// taken from a FieldReader are already fresh, and nested records are already
// trusted, so a shallow copy of T is usually enough.
func (t *Type[T]) CopyWith(fn func(T) T) *Type[T] {
	t.copy = fn
	return t
}

// CheckWith sets the invariant a value must satisfy to be decoded or encoded.
func (t *Type[T]) CheckWith(fn func(T) error) *Type[T] {
	t.inv = fn
	return t
}

func (t *Type[T]) Descriptor() *Descriptor { return t.desc }
func (t *Type[T]) ID() TypeID              { return t.desc.id }

func (t *Type[T]) toFields(v any) (f *Fields, err error) {
	tv, ok := v.(T)
	if !ok {
		return nil, t.schemaErr(fmt.Errorf("%w: got %T", ErrTypeMismatch, v))
	}
	if t.encode == nil {
		return nil, t.schemaErr(errMissingEncoder)
	}
	defer t.recoverHook("encode", &err)
	w := newFieldWriter(t.desc)
	t.encode(w, tv)
	if w.err != nil {
		return nil, w.err
	}
	return w.f, nil
}

// materialize runs decode hook, defensive copy and invariant check, in that
// order. The invariant only ever sees the copy.
func (t *Type[T]) materialize(f *Fields) (v any, err error) {
	if t.decode == nil {
		return nil, t.schemaErr(errMissingDecoder)
	}
	defer t.recoverHook("decode", &err)
	r := f.Reader()
	raw := t.decode(r)
	if r.err != nil {
		return nil, r.err
	}
	val := t.clone(raw)
	if err := t.checkValue(val); err != nil {
		return nil, err
	}
	return val, nil
}

func (t *Type[T]) check(v any) (err error) {
	tv, ok := v.(T)
	if !ok {
		return t.schemaErr(fmt.Errorf("%w: got %T", ErrTypeMismatch, v))
	}
	defer t.recoverHook("invariant", &err)
	return t.checkValue(tv)
}

// verify reports a T that would share memory with its decoded original.
func (t *Type[T]) verify() error {
	if t.copy != nil {
		return nil
	}
	var zero T
	if _, ok := any(zero).(interface{ Clone() T }); ok {
		return nil
	}
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		return t.schemaErr(fmt.Errorf("%w: %s", errMissingCopy, reflect.TypeFor[T]()))
	}
	return nil
}

func (t *Type[T]) clone(v T) T {
	if t.copy != nil {
		return t.copy(v)
	}
	if c, ok := any(v).(interface{ Clone() T }); ok {
		return c.Clone()
	}
	return v
}

func (t *Type[T]) checkValue(v T) error {
	if t.inv == nil {
		return nil
	}
	if err := t.inv(v); err != nil {
		return &InvalidRecordError{TypeID: t.desc.id, Name: t.desc.name, Reason: err.Error(), Err: err}
	}
	return nil
}

// recoverHook turns a panicking hook into an InvalidRecordError so a crafted
// input can never take the process down through a hook.
func (t *Type[T]) recoverHook(hook string, err *error) {
	if p := recover(); p != nil {
		*err = &InvalidRecordError{
			TypeID: t.desc.id,
			Name:   t.desc.name,
			Reason: fmt.Sprintf("%s hook panicked: %v", hook, p),
		}
	}
}

// layout is a Binding with no Go type behind it, registered through
// RegisterLayout. It is never picked as the reader or encoder of a type.
type layout struct{ desc *Descriptor }

func (l layout) Descriptor() *Descriptor { return l.desc }
func (l layout) verify() error           { return nil }

func (l layout) toFields(any) (*Fields, error)    { return nil, l.unbound() }
func (l layout) materialize(*Fields) (any, error) { return nil, l.unbound() }
func (l layout) check(any) error                  { return l.unbound() }

func (l layout) unbound() error {
	return &SchemaError{TypeID: l.desc.id, Name: l.desc.name, ReaderVersion: l.desc.version, Err: ErrUnregisteredType}
}

func (t *Type[T]) schemaErr(err error) error {
	return &SchemaError{TypeID: t.desc.id, Name: t.desc.name, ReaderVersion: t.desc.version, Err: err}
}

package safecodec

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Fingerprint is a BLAKE3 digest over a descriptor's declared shape. Two
// descriptors with the same TypeID and version must have equal fingerprints.
type Fingerprint [32]byte

// Short returns the prefix carried in each record payload.
func (f Fingerprint) Short() [FingerprintSize]byte {
	var s [FingerprintSize]byte
	copy(s[:], f[:FingerprintSize])
	return s
}

func (f Fingerprint) String() string { return hex.EncodeToString(f[:FingerprintSize]) }

// fingerprintKey domain-separates schema fingerprints from any other BLAKE3
// use in the host program.
var fingerprintKey = [32]byte{
	's', 'a', 'f', 'e', 'c', 'o', 'd', 'e', 'c', '.', 's', 'c', 'h', 'e', 'm', 'a',
}

// FieldDescriptor declares one field of a record's logical form. Name is used
// for diagnostics and for matching fields across versions; it is not written
// per record.
type FieldDescriptor struct {
	Name string
	Kind Kind
	// Elem is the element kind of a KindList field.
	Elem Kind
	// Ref is the referenced type of a KindRecord field, or of the elements of a
	// list of records.
	Ref TypeID
	// Optional fields may be absent on the wire; the reader then substitutes
	// Default.
	Optional bool
	// OmitDefault lets the writer leave out an optional field equal to Default.
	OmitDefault bool
	Default     any
}

func (f *FieldDescriptor) refersTo() (TypeID, bool) {
	if f.Kind == KindRecord || (f.Kind == KindList && f.Elem == KindRecord) {
		return f.Ref, true
	}
	return 0, false
}

// Descriptor is the declared shape of one version of a record type. It is
// immutable once built.
type Descriptor struct {
	id          TypeID
	name        string
	version     SchemaVersion
	fields      []FieldDescriptor
	index       map[string]int
	bits        []int // optional bit position per field, -1 when required
	optionals   int
	fingerprint Fingerprint
}

func (d *Descriptor) ID() TypeID                    { return d.id }
func (d *Descriptor) Name() string                  { return d.name }
func (d *Descriptor) Version() SchemaVersion        { return d.version }
func (d *Descriptor) Fingerprint() Fingerprint      { return d.fingerprint }
func (d *Descriptor) NumFields() int                { return len(d.fields) }
func (d *Descriptor) FieldAt(i int) FieldDescriptor { return d.fields[i] }

// Fields returns a copy of the declared fields in wire order.
func (d *Descriptor) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(d.fields))
	copy(out, d.fields)
	return out
}

// Lookup returns the field called name and its position.
func (d *Descriptor) Lookup(name string) (FieldDescriptor, int, bool) {
	i, ok := d.index[name]
	if !ok {
		return FieldDescriptor{}, -1, false
	}
	return d.fields[i], i, true
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s v%d [%s]", typeLabel(d.id, d.name), d.version, d.fingerprint)
}

// SchemaBuilder declares a record's logical form field by field. The order of
// calls fixes the wire order; declaration errors are reported by Build.
type SchemaBuilder struct {
	id      TypeID
	name    string
	version SchemaVersion
	fields  []FieldDescriptor
}

// NewSchema starts the declaration of version of the record type id.
func NewSchema(id TypeID, name string, version SchemaVersion) *SchemaBuilder {
	return &SchemaBuilder{id: id, name: name, version: version}
}

// FieldOption adjusts a field declaration.
type FieldOption func(*FieldDescriptor)

// Optional marks the field optional with the given default. A nil default
// means the zero value of the field's kind.
func Optional(def any) FieldOption {
	return func(f *FieldDescriptor) {
		f.Optional = true
		f.Default = def
	}
}

// OmitDefault lets the writer leave an optional field out when it equals its
// default. It implies Optional with the zero default unless Optional is also
// given.
func OmitDefault() FieldOption {
	return func(f *FieldDescriptor) {
		f.Optional = true
		f.OmitDefault = true
	}
}

// Ref sets the referenced record type of a record field or a list of records.
func Ref(id TypeID) FieldOption {
	return func(f *FieldDescriptor) { f.Ref = id }
}

// Elem sets the element kind of a list field.
func Elem(kind Kind) FieldOption {
	return func(f *FieldDescriptor) { f.Elem = kind }
}

// Field declares the next field. It is the general form behind the typed
// helpers below.
func (b *SchemaBuilder) Field(name string, kind Kind, opts ...FieldOption) *SchemaBuilder {
	f := FieldDescriptor{Name: name, Kind: kind}
	for _, opt := range opts {
		opt(&f)
	}
	b.fields = append(b.fields, f)
	return b
}

func (b *SchemaBuilder) Int32(name string, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindInt32, opts...)
}

func (b *SchemaBuilder) Int64(name string, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindInt64, opts...)
}

func (b *SchemaBuilder) Float64(name string, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindFloat64, opts...)
}

func (b *SchemaBuilder) Bool(name string, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindBool, opts...)
}

// Text declares a UTF-8 string field.
func (b *SchemaBuilder) Text(name string, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindString, opts...)
}

func (b *SchemaBuilder) Bytes(name string, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindBytes, opts...)
}

// Record declares a nested record field of type ref.
func (b *SchemaBuilder) Record(name string, ref TypeID, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindRecord, append([]FieldOption{Ref(ref)}, opts...)...)
}

// List declares a list field. Lists of records also need Ref.
func (b *SchemaBuilder) List(name string, elem Kind, opts ...FieldOption) *SchemaBuilder {
	return b.Field(name, KindList, append([]FieldOption{Elem(elem)}, opts...)...)
}

// Build validates the declaration and computes its fingerprint.
func (b *SchemaBuilder) Build() (*Descriptor, error) {
	d := &Descriptor{
		id:      b.id,
		name:    b.name,
		version: b.version,
		fields:  make([]FieldDescriptor, len(b.fields)),
		index:   make(map[string]int, len(b.fields)),
		bits:    make([]int, len(b.fields)),
	}
	invalid := func(field, format string, args ...any) (*Descriptor, error) {
		return nil, &SchemaError{
			TypeID:        b.id,
			Name:          b.name,
			ReaderVersion: b.version,
			Field:         field,
			Err:           fmt.Errorf("%w: "+format, append([]any{ErrInvalidDescriptor}, args...)...),
		}
	}
	if b.id == 0 {
		return invalid("", "type id 0 is reserved")
	}
	if b.version == 0 {
		return invalid("", "version must be at least 1")
	}
	for i, f := range b.fields {
		if f.Name == "" {
			return invalid("", "field %d has no name", i)
		}
		if _, dup := d.index[f.Name]; dup {
			return invalid(f.Name, "duplicate field name")
		}
		switch {
		case f.Kind.primitive(), f.Kind == KindRecord:
			if f.Elem != KindInvalid {
				return invalid(f.Name, "element kind on a %s field", f.Kind)
			}
		case f.Kind == KindList:
			if !f.Elem.primitive() && f.Elem != KindRecord {
				return invalid(f.Name, "list element kind %s", f.Elem)
			}
		default:
			return invalid(f.Name, "kind %s", f.Kind)
		}
		if ref, ok := f.refersTo(); !ok && f.Ref != 0 {
			return invalid(f.Name, "reference on a %s field", f.Kind)
		} else if ok && ref == 0 {
			return invalid(f.Name, "record field without a referenced type")
		}
		if f.Optional {
			def, err := normalizeDefault(f)
			if err != nil {
				return nil, &SchemaError{TypeID: b.id, Name: b.name, ReaderVersion: b.version, Field: f.Name, Err: err}
			}
			f.Default = def
			d.bits[i] = d.optionals
			d.optionals++
		} else {
			if f.Default != nil {
				return invalid(f.Name, "default on a required field")
			}
			d.bits[i] = -1
		}
		d.fields[i] = f
		d.index[f.Name] = i
	}
	d.fingerprint = fingerprint(d)
	return d, nil
}

// MustBuild is Build for declarations made at process start.
func (b *SchemaBuilder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// fingerprint hashes the canonical encoding of the declared shape. Hooks are
// not part of the hash.
func fingerprint(d *Descriptor) Fingerprint {
	w := NewWriter(make([]byte, 0, 64+32*len(d.fields)))
	w.WriteUvarint(uint64(d.id))
	w.WriteUvarint(uint64(d.version))
	w.WriteString(d.name)
	w.WriteUvarint(uint64(len(d.fields)))
	for i := range d.fields {
		f := &d.fields[i]
		w.WriteString(f.Name)
		w.WriteUint8(uint8(f.Kind))
		w.WriteUint8(uint8(f.Elem))
		w.WriteUvarint(uint64(f.Ref))
		var flags uint8
		if f.Optional {
			flags |= 1
		}
		if f.OmitDefault {
			flags |= 2
		}
		w.WriteUint8(flags)
		if f.Optional && f.Kind.primitive() {
			writePrimitive(w, f.Kind, f.Default)
		}
	}

	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("safecodec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(w.Bytes())
	var fp Fingerprint
	copy(fp[:], hasher.Sum(nil))
	return fp
}

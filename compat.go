package safecodec

import "fmt"

// FieldSource says where a reader field gets its value from.
type FieldSource struct {
	// Writer is the index of the writer field carrying the value, or -1 when
	// the reader's default is used.
	Writer int
}

func (s FieldSource) Defaulted() bool { return s.Writer < 0 }

// FieldMapping relates the fields of a writer schema to those of a reader
// schema of the same type. Fields are matched by name, so reordering across
// versions is safe.
type FieldMapping struct {
	Writer *Descriptor
	Reader *Descriptor
	// Sources has one entry per reader field.
	Sources []FieldSource

	// targets has one entry per writer field: the reader index, or -1 when
	// the reader does not know the field and skips it.
	targets []int
}

// CompatibleFields computes how a record written with writer is read with
// reader. A field both sides declare must agree on kind, element kind and
// referenced type. A reader field the writer lacks must be optional.
func CompatibleFields(writer, reader *Descriptor) (*FieldMapping, error) {
	incompatible := func(field, format string, args ...any) (*FieldMapping, error) {
		return nil, &SchemaError{
			TypeID:        reader.id,
			Name:          reader.name,
			WriterVersion: writer.version,
			ReaderVersion: reader.version,
			Field:         field,
			Err:           fmt.Errorf("%w: "+format, append([]any{ErrIncompatibleSchema}, args...)...),
		}
	}
	if writer.id != reader.id {
		return incompatible("", "writer is %s", typeLabel(writer.id, writer.name))
	}
	m := &FieldMapping{
		Writer:  writer,
		Reader:  reader,
		Sources: make([]FieldSource, len(reader.fields)),
		targets: make([]int, len(writer.fields)),
	}
	for i := range m.targets {
		m.targets[i] = -1
	}
	for j := range reader.fields {
		rf := &reader.fields[j]
		i, ok := writer.index[rf.Name]
		if !ok {
			if !rf.Optional {
				return incompatible(rf.Name, "required field missing from writer schema")
			}
			m.Sources[j] = FieldSource{Writer: -1}
			continue
		}
		wf := &writer.fields[i]
		if wf.Kind != rf.Kind || wf.Elem != rf.Elem || wf.Ref != rf.Ref {
			return incompatible(rf.Name, "writer declares %s, reader %s", describeField(wf), describeField(rf))
		}
		m.Sources[j] = FieldSource{Writer: i}
		m.targets[i] = j
	}
	return m, nil
}

// identityMapping reads a record with the reader's own layout. It serves
// records from a writer newer than every registered version.
func identityMapping(d *Descriptor) *FieldMapping {
	m := &FieldMapping{
		Writer:  d,
		Reader:  d,
		Sources: make([]FieldSource, len(d.fields)),
		targets: make([]int, len(d.fields)),
	}
	for i := range d.fields {
		m.Sources[i] = FieldSource{Writer: i}
		m.targets[i] = i
	}
	return m
}

func describeField(f *FieldDescriptor) string {
	switch f.Kind {
	case KindList:
		if f.Elem == KindRecord {
			return fmt.Sprintf("list<record #%d>", f.Ref)
		}
		return fmt.Sprintf("list<%s>", f.Elem)
	case KindRecord:
		return fmt.Sprintf("record #%d", f.Ref)
	default:
		return f.Kind.String()
	}
}

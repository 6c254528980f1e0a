package safecodec

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Decode reads exactly one record of type expected from data and returns its
// trusted application value.
//
// The steps run in a fixed order: header, admission against allow, payload
// length against limits, field decode under the budget, default
// substitution, decode hook, defensive copy, invariant check. Any failure
// aborts the call and no value escapes.
func (r *Registry) Decode(data []byte, expected TypeID, allow *AllowList, limits Limits) (any, error) {
	budget := NewBudget(limits)
	rd := newBudgetReader(data, budget)
	v, err := r.decodeRecord(rd, expected, allow, budget)
	if err == nil && rd.Remaining() > 0 {
		err = fmt.Errorf("%w: %d bytes after record", ErrTrailingData, rd.Remaining())
	}
	if err != nil {
		r.logReject(expected, budget, err)
		return nil, err
	}
	return v, nil
}

// DecodeStream decodes data as a concatenation of records of type expected.
// All records share one Budget; the first failure discards the whole batch.
func (r *Registry) DecodeStream(data []byte, expected TypeID, allow *AllowList, limits Limits) ([]any, error) {
	budget := NewBudget(limits)
	rd := newBudgetReader(data, budget)
	var out []any
	for rd.Remaining() > 0 {
		v, err := r.decodeRecord(rd, expected, allow, budget)
		if err != nil {
			r.logReject(expected, budget, err)
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Registry) decodeRecord(rd *Reader, expected TypeID, allow *AllowList, budget *Budget) (any, error) {
	h := readHeader(rd)
	if rd.err != nil {
		return nil, rd.err
	}
	if err := admit(h, expected, allow); err != nil {
		return nil, err
	}
	if err := budget.admitPayload(h.Length); err != nil {
		return nil, err
	}
	payload := rd.take(int(h.Length))
	if rd.err != nil {
		return nil, rd.err
	}
	d := decoder{reg: r, allow: allow, budget: budget}
	return d.record(h, payload)
}

// admit is the allow-list decision. It sees nothing but the header.
func admit(h Header, expected TypeID, allow *AllowList) error {
	if h.TypeID != expected || !allow.Allows(h.TypeID) {
		return fmt.Errorf("%w: #%d", ErrTypeNotAllowed, h.TypeID)
	}
	return nil
}

// decoder carries the state shared by one top-level call and all the records
// nested in it.
type decoder struct {
	reg    *Registry
	allow  *AllowList
	budget *Budget
	depth  int
}

func (d *decoder) record(h Header, payload []byte) (any, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > d.reg.maxDepth {
		return nil, &BudgetError{Dimension: "depth", Limit: int64(d.reg.maxDepth)}
	}
	if err := d.budget.Enter(); err != nil {
		return nil, err
	}
	defer d.budget.Leave()

	binding, err := d.reg.latestBinding(h.TypeID)
	if err != nil {
		return nil, err
	}
	reader := binding.Descriptor()
	mapping, err := d.reg.writerLayout(h, reader)
	if err != nil {
		return nil, err
	}
	writer := mapping.Writer
	schemaErr := func(field string, err error) error {
		return &SchemaError{TypeID: reader.id, Name: reader.name,
			WriterVersion: h.Version, ReaderVersion: reader.version, Field: field, Err: err}
	}

	pr := newBudgetReader(payload, d.budget)
	var short [FingerprintSize]byte
	pr.ReadRaw(short[:])
	if pr.err == nil && short != writer.fingerprint.Short() {
		return nil, schemaErr("", fmt.Errorf("%w: fingerprint mismatch", ErrIncompatibleSchema))
	}
	bits := d.readBitset(pr, writer)
	if pr.err != nil {
		return nil, pr.err
	}

	fields := NewFields(reader)
	for i := range writer.fields {
		wf := &writer.fields[i]
		if err := d.budget.Step(); err != nil {
			return nil, err
		}
		if bit := writer.bits[i]; bit >= 0 && bits[bit/8]&(1<<(bit%8)) == 0 {
			continue
		}
		if err := d.budget.Visit(1); err != nil {
			return nil, err
		}
		v := d.value(pr, wf)
		if pr.err != nil {
			return nil, pr.err
		}
		if j := mapping.targets[i]; j >= 0 {
			fields.values[j] = v
			fields.present[j] = true
		}
	}
	if pr.Remaining() > 0 {
		return nil, fmt.Errorf("%w: %d bytes in %s payload", ErrTrailingData, pr.Remaining(), typeLabel(reader.id, reader.name))
	}

	for j := range reader.fields {
		if fields.present[j] {
			continue
		}
		rf := &reader.fields[j]
		if !rf.Optional {
			return nil, schemaErr(rf.Name, errRequiredMissing)
		}
		fields.values[j] = cloneValue(rf.Default)
	}
	return binding.materialize(fields)
}

// readBitset reads the optional-field presence bits, one per optional field of
// the writer.
func (d *decoder) readBitset(pr *Reader, writer *Descriptor) []byte {
	var n uint64
	pr.ReadUvarint(&n)
	if pr.err != nil {
		return nil
	}
	want := uint64(writer.optionals+7) / 8
	if n != want || n > uint64(pr.Remaining()) {
		pr.setError(ErrMalformedLength)
		return nil
	}
	return pr.take(int(n))
}

func (d *decoder) value(pr *Reader, f *FieldDescriptor) any {
	switch f.Kind {
	case KindRecord:
		return d.nested(pr, f.Ref)
	case KindList:
		return d.list(pr, f)
	default:
		return readPrimitive(pr, f.Kind)
	}
}

// nested admits and decodes an embedded record. Its header goes through the
// same allow-list as a top-level one.
func (d *decoder) nested(pr *Reader, ref TypeID) any {
	h := readHeader(pr)
	if pr.err != nil {
		return nil
	}
	if err := admit(h, ref, d.allow); err != nil {
		pr.setError(err)
		return nil
	}
	payload := pr.take(int(h.Length))
	if pr.err != nil {
		return nil
	}
	v, err := d.record(h, payload)
	if err != nil {
		pr.setError(err)
		return nil
	}
	return v
}

// logReject reports a failed decode. Policy rejections may be probing and are
// logged louder than malformed input.
func (r *Registry) logReject(expected TypeID, budget *Budget, err error) {
	var ev *zerolog.Event
	kind := KindOf(err)
	switch kind {
	case ErrorKindPolicy:
		ev = r.log.Warn()
	case ErrorKindInvariant:
		ev = r.log.Info()
	default:
		ev = r.log.Debug()
	}
	usage := budget.Usage()
	ev = ev.Err(err).
		Uint64("type_id", uint64(expected)).
		Stringer("kind", kind).
		Int("depth", usage.MaxDepth).
		Int64("fields", usage.Fields).
		Int64("payload", usage.Payload).
		Int64("steps", usage.Steps)
	var be *BudgetError
	if errors.As(err, &be) {
		ev = ev.Str("dimension", be.Dimension)
	}
	ev.Msg("decode rejected")
}

package safecodec

import "fmt"

// A list is a u32 element count followed by the elements. Lists of records
// embed each element with a full record header.

func (d *decoder) list(pr *Reader, f *FieldDescriptor) any {
	count := pr.ReadCount(minEncodedSize(f.Elem))
	if pr.err != nil {
		return nil
	}
	items := make([]any, 0, count)
	for range count {
		if err := d.budget.Step(); err != nil {
			pr.setError(err)
			return nil
		}
		if err := d.budget.Visit(1); err != nil {
			pr.setError(err)
			return nil
		}
		var v any
		if f.Elem == KindRecord {
			v = d.nested(pr, f.Ref)
		} else {
			v = readPrimitive(pr, f.Elem)
		}
		if pr.err != nil {
			return nil
		}
		items = append(items, v)
	}
	return items
}

func (e *encoder) list(f *FieldDescriptor, items []any) {
	e.w.WriteLength(len(items))
	for _, item := range items {
		if f.Elem == KindRecord {
			e.record(item, f.Ref)
		} else {
			writePrimitive(e.w, f.Elem, item)
		}
	}
}

// ListOf returns a list field's elements as []E.
func ListOf[E any](r *FieldReader, name string) []E {
	items := r.List(name)
	if items == nil {
		return nil
	}
	out := make([]E, len(items))
	for i, item := range items {
		e, ok := item.(E)
		if !ok {
			r.setError(fmt.Errorf("%w: element %d of %q is %T, not %T", ErrTypeMismatch, i, name, item, out[i]))
			return nil
		}
		out[i] = e
	}
	return out
}

// SetList stores items as a list field.
func SetList[E any](w *FieldWriter, name string, items []E) {
	list := make([]any, len(items))
	for i, item := range items {
		list[i] = item
	}
	w.List(name, list)
}

package safecodec

import "fmt"

// Encode is Registry.Encode for a statically typed value.
func Encode[T any](reg *Registry, v T, id TypeID) ([]byte, error) {
	return reg.Encode(v, id)
}

// Decode is Registry.Decode returning the value as T. A registered type whose
// decode hook produces something other than T fails with ErrTypeMismatch.
func Decode[T any](reg *Registry, data []byte, expected TypeID, allow *AllowList, limits Limits) (T, error) {
	var zero T
	v, err := reg.Decode(data, expected, allow, limits)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &SchemaError{TypeID: expected, Err: fmt.Errorf("%w: decoded %T, want %T", ErrTypeMismatch, v, zero)}
	}
	return t, nil
}

// DecodeAll is Registry.DecodeStream returning the values as []T.
func DecodeAll[T any](reg *Registry, data []byte, expected TypeID, allow *AllowList, limits Limits) ([]T, error) {
	values, err := reg.DecodeStream(data, expected, allow, limits)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(values))
	for i, v := range values {
		t, ok := v.(T)
		if !ok {
			return nil, &SchemaError{TypeID: expected, Err: fmt.Errorf("%w: decoded %T, want %T", ErrTypeMismatch, v, out[i])}
		}
		out[i] = t
	}
	return out, nil
}

// EncodeAll is Registry.EncodeStream for a statically typed slice.
func EncodeAll[T any](reg *Registry, values []T, id TypeID) ([]byte, error) {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	return reg.EncodeStream(items, id)
}

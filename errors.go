package safecodec

import (
	"errors"
	"fmt"
)

// Error kinds. Every sentinel below unwraps to exactly one of these, so callers
// can branch on the class of failure with errors.Is(err, ErrPolicy).
var (
	// ErrStream indicates the byte buffer is structurally invalid.
	ErrStream = errors.New("safecodec: stream error")

	// ErrSchema indicates a registration or versioning mismatch.
	ErrSchema = errors.New("safecodec: schema error")

	// ErrPolicy indicates a well-formed input rejected by the allow-list or budget.
	ErrPolicy = errors.New("safecodec: policy error")

	// ErrInvariant indicates a decoded value failed its declared invariant.
	ErrInvariant = errors.New("safecodec: invariant error")

	// ErrRejected is the opaque error returned by Public for stream and policy
	// failures.
	ErrRejected = errors.New("safecodec: input rejected")
)

type kindedError struct {
	kind error
	msg  string
}

func (e *kindedError) Error() string { return e.msg }
func (e *kindedError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindedError{kind: kind, msg: msg}
}

var (
	// ErrTruncatedStream indicates a fixed-width value, a varint or a length-prefixed
	// value runs past the end of the buffer.
	ErrTruncatedStream = newError(ErrStream, "safecodec: truncated stream")

	// ErrMalformedLength indicates a length or count that cannot be valid: a
	// varint overflow, a length above MaxLength, or an element count whose
	// minimum encoded size exceeds the remaining input.
	ErrMalformedLength = newError(ErrStream, "safecodec: malformed length")

	// ErrInvalidValue indicates a primitive with an impossible encoding, such as a
	// bool byte other than 0 or 1, or a string that is not valid UTF-8.
	ErrInvalidValue = newError(ErrStream, "safecodec: invalid value encoding")

	// ErrTrailingData indicates bytes left over after a record whose writer schema
	// is known was fully decoded.
	ErrTrailingData = newError(ErrStream, "safecodec: trailing data after record")
)

var (
	ErrUnknownType        = newError(ErrSchema, "safecodec: unknown type")
	ErrUnknownVersion     = newError(ErrSchema, "safecodec: unknown schema version")
	ErrIncompatibleSchema = newError(ErrSchema, "safecodec: incompatible schema")
	ErrDuplicateType      = newError(ErrSchema, "safecodec: duplicate type registration")
	ErrUnregisteredType   = newError(ErrSchema, "safecodec: type is not registered")
	ErrTypeMismatch       = newError(ErrSchema, "safecodec: value does not match registered type")
	ErrInvalidDescriptor  = newError(ErrSchema, "safecodec: invalid record descriptor")
	ErrRegistrySealed     = newError(ErrSchema, "safecodec: registry is sealed")
)

var (
	ErrTypeNotAllowed  = newError(ErrPolicy, "safecodec: type not allowed")
	ErrBudgetExceeded  = newError(ErrPolicy, "safecodec: decode budget exceeded")
	ErrInvalidRecord   = newError(ErrInvariant, "safecodec: invalid record")
	errMissingDecoder  = fmt.Errorf("%w: no decode hook", ErrInvalidDescriptor)
	errMissingEncoder  = fmt.Errorf("%w: no encode hook", ErrInvalidDescriptor)
	errMissingCopy     = fmt.Errorf("%w: reference type without a copy hook", ErrInvalidDescriptor)
	errRequiredMissing = fmt.Errorf("%w: required field absent", ErrIncompatibleSchema)
)

// ErrorKind classifies an error returned by this package.
type ErrorKind uint8

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindStream
	ErrorKindSchema
	ErrorKindPolicy
	ErrorKindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindStream:
		return "stream"
	case ErrorKindSchema:
		return "schema"
	case ErrorKindPolicy:
		return "policy"
	case ErrorKindInvariant:
		return "invariant"
	default:
		return "none"
	}
}

// KindOf reports which class err belongs to. Errors not produced by this
// package report ErrorKindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrPolicy):
		return ErrorKindPolicy
	case errors.Is(err, ErrStream):
		return ErrorKindStream
	case errors.Is(err, ErrSchema):
		return ErrorKindSchema
	case errors.Is(err, ErrInvariant):
		return ErrorKindInvariant
	default:
		return ErrorKindNone
	}
}

// Public strips detail from err before it is reported to the peer that sent
// the input. Stream and policy failures collapse into ErrRejected so a caller
// probing the allow-list cannot tell which check fired.
func Public(err error) error {
	switch KindOf(err) {
	case ErrorKindNone:
		return err
	case ErrorKindStream, ErrorKindPolicy:
		return ErrRejected
	case ErrorKindSchema:
		return ErrSchema
	default:
		return ErrInvariant
	}
}

// SchemaError carries the type and versions involved in a schema failure, enough
// to diagnose deployment skew.
type SchemaError struct {
	TypeID        TypeID
	Name          string
	WriterVersion SchemaVersion
	ReaderVersion SchemaVersion
	Field         string
	Err           error
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("%v: type %s", e.Err, typeLabel(e.TypeID, e.Name))
	if e.WriterVersion != 0 {
		msg += fmt.Sprintf(" writer v%d", e.WriterVersion)
	}
	if e.ReaderVersion != 0 {
		msg += fmt.Sprintf(" reader v%d", e.ReaderVersion)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

// InvalidRecordError is returned when a decoded or to-be-encoded value fails its
// invariant check, or when a hook fails to produce a value.
type InvalidRecordError struct {
	TypeID TypeID
	Name   string
	Reason string
	Err    error
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidRecord, typeLabel(e.TypeID, e.Name), e.Reason)
}

func (e *InvalidRecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidRecord}
	}
	return []error{ErrInvalidRecord, e.Err}
}

// BudgetError names the exhausted dimension of a Budget.
type BudgetError struct {
	Dimension string
	Limit     int64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%v: %s limit %d", ErrBudgetExceeded, e.Dimension, e.Limit)
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

func typeLabel(id TypeID, name string) string {
	if name == "" {
		return fmt.Sprintf("#%d", id)
	}
	return fmt.Sprintf("%s(#%d)", name, id)
}

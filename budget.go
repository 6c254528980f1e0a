package safecodec

import "time"

// Limits caps the work a single top-level decode call may do. A zero field
// leaves that dimension uncapped; thresholds are workload-dependent and are
// always chosen by the caller.
type Limits struct {
	// MaxDepth bounds record nesting. The top-level record is depth 1.
	MaxDepth int
	// MaxFields bounds the number of fields and list elements visited.
	MaxFields int64
	// MaxBytes bounds the cumulative length of all top-level payloads in the
	// call, and separately the cumulative declared length of all strings and
	// byte arrays.
	MaxBytes int64
	// MaxSteps bounds decode loop iterations across the whole call.
	MaxSteps int64
	// Timeout bounds wall-clock time, checked on every step.
	Timeout time.Duration
	// Now overrides the clock used for Timeout.
	Now func() time.Time
}

// Usage is a snapshot of a Budget's counters.
type Usage struct {
	MaxDepth int
	Fields   int64
	Bytes    int64
	Payload  int64
	Steps    int64
}

// Budget tracks one decode call against its Limits. It is created at the start
// of a top-level call and must not be shared between calls.
type Budget struct {
	limits   Limits
	now      func() time.Time
	deadline time.Time

	depth int
	usage Usage
}

// NewBudget starts a Budget for one call. The clock starts now.
func NewBudget(limits Limits) *Budget {
	b := &Budget{limits: limits, now: limits.Now}
	if b.now == nil {
		b.now = time.Now
	}
	if limits.Timeout > 0 {
		b.deadline = b.now().Add(limits.Timeout)
	}
	return b
}

func (b *Budget) Limits() Limits { return b.limits }
func (b *Budget) Usage() Usage   { return b.usage }

// Enter descends one nesting level.
func (b *Budget) Enter() error {
	b.depth++
	if b.depth > b.usage.MaxDepth {
		b.usage.MaxDepth = b.depth
	}
	if !within(b.depth, b.limits.MaxDepth) {
		return &BudgetError{Dimension: "depth", Limit: int64(b.limits.MaxDepth)}
	}
	return b.Step()
}

// Leave pops the level pushed by Enter.
func (b *Budget) Leave() { b.depth-- }

// Visit counts n fields or list elements.
func (b *Budget) Visit(n int64) error {
	b.usage.Fields += n
	if !within(b.usage.Fields, b.limits.MaxFields) {
		return &BudgetError{Dimension: "fields", Limit: b.limits.MaxFields}
	}
	return nil
}

// Charge counts n declared bytes.
func (b *Budget) Charge(n int64) error {
	b.usage.Bytes += n
	if !within(b.usage.Bytes, b.limits.MaxBytes) {
		return &BudgetError{Dimension: "bytes", Limit: b.limits.MaxBytes}
	}
	return nil
}

// admitPayload counts a top-level payload length before its body is read.
// Records of one stream share the total.
func (b *Budget) admitPayload(n uint32) error {
	b.usage.Payload += int64(n)
	if !within(b.usage.Payload, b.limits.MaxBytes) {
		return &BudgetError{Dimension: "bytes", Limit: b.limits.MaxBytes}
	}
	return nil
}

// Step counts one unit of decode work and checks the deadline.
func (b *Budget) Step() error {
	b.usage.Steps++
	if !within(b.usage.Steps, b.limits.MaxSteps) {
		return &BudgetError{Dimension: "steps", Limit: b.limits.MaxSteps}
	}
	if !b.deadline.IsZero() && b.now().After(b.deadline) {
		return &BudgetError{Dimension: "time", Limit: int64(b.limits.Timeout)}
	}
	return nil
}

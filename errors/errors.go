package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRead     Phase = "read"     // bytes to ClassFile
	PhasePlan     Phase = "plan"     // policy matching and fragment resolution
	PhaseRewrite  Phase = "rewrite"  // instruction splicing and fixups
	PhaseWrite    Phase = "write"    // ClassFile to bytes
	PhaseValidate Phase = "validate" // structural checks
	PhaseConfig   Phase = "config"   // run file loading
	PhaseDispatch Phase = "dispatch" // discovery and file I/O
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedUnit        Kind = "malformed_unit"
	KindTruncatedInput       Kind = "truncated_input"
	KindBadConstantReference Kind = "bad_constant_reference"
	KindOverlappingInjection Kind = "overlapping_injection"
	KindUnresolvedTarget     Kind = "unresolved_injection_target"
	KindInvalidFragment      Kind = "invalid_fragment"
	KindBranchOutOfRange     Kind = "branch_out_of_range"
	KindCodeTooLarge         Kind = "code_too_large"
	KindPoolOverflow         Kind = "constant_pool_overflow"
	KindOverflow             Kind = "overflow"
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindTimeout              Kind = "timeout"
	KindIO                   Kind = "io"
)

// Sentinels for errors.Is matching on kind alone.
var (
	MalformedUnit        = &kindSentinel{KindMalformedUnit}
	TruncatedInput       = &kindSentinel{KindTruncatedInput}
	BadConstantReference = &kindSentinel{KindBadConstantReference}
	OverlappingInjection = &kindSentinel{KindOverlappingInjection}
	UnresolvedTarget     = &kindSentinel{KindUnresolvedTarget}
	InvalidFragment      = &kindSentinel{KindInvalidFragment}
	ConstantPoolOverflow = &kindSentinel{KindPoolOverflow}
)

type kindSentinel struct {
	kind Kind
}

func (s *kindSentinel) Error() string { return string(s.kind) }

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	Offset int // byte offset in the unit or code array, -1 if unknown
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Offset >= 0 {
		b.WriteString(" (offset ")
		b.WriteString(strconv.Itoa(e.Offset))
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A *Error target matches on
// phase and kind; a kind sentinel matches on kind only.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return e.Phase == t.Phase && e.Kind == t.Kind
	case *kindSentinel:
		return e.Kind == t.kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Offset: -1,
		},
	}
}

// Path sets the location path (class, method, attribute)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Offset sets the byte offset
func (b *Builder) Offset(off int) *Builder {
	b.err.Offset = off
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Convenience constructors for common error patterns

// Malformed creates a malformed unit error
func Malformed(offset int, detail string, args ...any) *Error {
	return New(PhaseRead, KindMalformedUnit).Offset(offset).Detail(detail, args...).Build()
}

// Truncated creates a truncated input error
func Truncated(offset int, what string, need, have int) *Error {
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindTruncatedInput,
		Offset: offset,
		Detail: fmt.Sprintf("%s needs %d bytes, %d remain", what, need, have),
	}
}

// BadReference creates a bad constant reference error
func BadReference(path []string, index, poolSize int, want string) *Error {
	detail := fmt.Sprintf("index %d out of bounds (pool size %d)", index, poolSize)
	if want != "" && index > 0 && index < poolSize {
		detail = fmt.Sprintf("index %d is not a %s entry", index, want)
	}
	return &Error{
		Phase:  PhaseRead,
		Kind:   KindBadConstantReference,
		Path:   path,
		Offset: -1,
		Detail: detail,
		Value:  index,
	}
}

// Overlapping creates an overlapping injection error
func Overlapping(path []string, offset int, insStart, insLen int) *Error {
	return &Error{
		Phase:  PhaseRewrite,
		Kind:   KindOverlappingInjection,
		Path:   path,
		Offset: offset,
		Detail: fmt.Sprintf("insertion point falls inside the %d-byte instruction at %d", insLen, insStart),
		Value:  offset,
	}
}

// Unresolved creates an unresolved injection target error
func Unresolved(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseRewrite,
		Kind:   KindUnresolvedTarget,
		Path:   path,
		Offset: -1,
		Detail: detail,
	}
}

// Fragment creates an invalid fragment error
func Fragment(line int, detail string, args ...any) *Error {
	return New(PhasePlan, KindInvalidFragment).
		Path("fragment", strconv.Itoa(line)).
		Detail(detail, args...).
		Build()
}

// PoolOverflow creates a constant pool overflow error
func PoolOverflow(phase Phase, slots int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPoolOverflow,
		Offset: -1,
		Detail: fmt.Sprintf("constant pool needs %d slots, format allows 65535", slots),
		Value:  slots,
	}
}

// Overflow creates an overflow error for a u2-counted table
func Overflow(phase Phase, path []string, value any, limit string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Offset: -1,
		Detail: fmt.Sprintf("value %v overflows %s", value, limit),
		Value:  value,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Offset: -1,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Offset: -1,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Offset: -1,
		Detail: detail,
		Cause:  cause,
	}
}

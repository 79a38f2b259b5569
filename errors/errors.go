package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the process lifecycle the error occurred
type Phase string

const (
	PhaseConstruct Phase = "construct" // runtime/realm construction
	PhaseConfigure Phase = "configure" // limits, strip policy, loader wiring
	PhaseCompile   Phase = "compile"   // source unit compilation
	PhaseExecute   Phase = "execute"   // source unit execution
	PhaseDrain     Phase = "drain"     // job queue draining
	PhaseTeardown  Phase = "teardown"  // handler/realm/runtime release
	PhaseLoad      Phase = "load"      // module/engine binary loading
	PhaseEngine    Phase = "engine"    // guest ABI calls
)

// Kind categorizes the error
type Kind string

const (
	KindConstruction Kind = "construction" // runtime or realm allocation failed; fatal
	KindLimit        Kind = "limit"        // an allocation failed under the ceiling or the host
	KindException    Kind = "exception"    // a unit failed to compile or threw
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindIO           Kind = "io"
	KindTrap         Kind = "trap" // guest call trapped
	KindABI          Kind = "abi"  // guest export missing or malformed
	KindClosed       Kind = "closed"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string // operation, e.g. "qjs_eval"
	Unit   string // source unit name, when one is involved
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Unit != "" {
		b.WriteString(" at ")
		b.WriteString(e.Unit)
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the failing operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Unit sets the source unit name
func (b *Builder) Unit(name string) *Builder {
	b.err.Unit = name
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
	return &b.err
}

// Convenience constructors for common error patterns

// ConstructionFailed creates a fatal construction error
func ConstructionFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindConstruction,
		Detail: fmt.Sprintf("cannot allocate %s", what),
		Cause:  cause,
	}
}

// LimitExceeded creates an allocation-failure error carrying the
// accounting state at the time of failure
func LimitExceeded(phase Phase, requested, live, limit uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimit,
		Detail: fmt.Sprintf("%d bytes requested with %d of %d live", requested, live, limit),
	}
}

// Trap wraps a guest trap raised during an ABI call
func Trap(op string, cause error) *Error {
	return &Error{
		Phase: PhaseEngine,
		Kind:  KindTrap,
		Op:    op,
		Cause: cause,
	}
}

// MissingExport creates an ABI error for an absent guest export
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindABI,
		Detail: fmt.Sprintf("guest export %q not found", name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// LoadFailed creates a loading error
func LoadFailed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// Closed creates an error for operations on a released object
func Closed(op string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindClosed,
		Op:     op,
		Detail: "engine is closed",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsConstruction reports whether err is a fatal construction failure
func IsConstruction(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == KindConstruction
	}
	return false
}

// IsException reports whether err is a compile-or-runtime exception
func IsException(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == KindException
	}
	return false
}

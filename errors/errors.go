package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the binding layer the error occurred
type Phase string

const (
	PhasePlatform Phase = "platform" // platform resolution
	PhaseLoad     Phase = "load"     // engine module loading
	PhaseValidate Phase = "validate" // handle and argument validation
	PhaseNative   Phase = "native"   // engine-reported failures
	PhaseIO       Phase = "io"       // host-side file and memory transfer
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupported    Kind = "unsupported"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidHandle  Kind = "invalid_handle"
	KindTypeMismatch   Kind = "type_mismatch"
	KindConsumed       Kind = "consumed"
	KindBusy           Kind = "busy"
	KindEngineFailure  Kind = "engine_failure"
	KindInvalidInput   Kind = "invalid_input"
	KindTimeout        Kind = "timeout"
	KindCanceled       Kind = "canceled"
)

// Sentinels for errors.Is. Matching compares Phase and Kind only.
var (
	ErrUnsupportedPlatform = &Error{Phase: PhasePlatform, Kind: KindUnsupported}
	ErrInvalidHandle       = &Error{Phase: PhaseValidate, Kind: KindInvalidHandle}
	ErrKindMismatch        = &Error{Phase: PhaseValidate, Kind: KindTypeMismatch}
	ErrConsumed            = &Error{Phase: PhaseValidate, Kind: KindConsumed}
	ErrBusy                = &Error{Phase: PhaseValidate, Kind: KindBusy}
)

// Error is the structured error type used throughout the binding layer
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
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

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
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
	return &b.err
}

// UnsupportedPlatform creates the error returned for an unknown host OS
func UnsupportedPlatform(goos string) *Error {
	return &Error{
		Phase:  PhasePlatform,
		Kind:   KindUnsupported,
		Detail: fmt.Sprintf("no native engine module for platform %q", goos),
		Value:  goos,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindEngineFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// ModuleNotFound creates a load error for a missing module file
func ModuleNotFound(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("engine module %q not found", path),
		Value:  path,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidHandle creates an error for zero-valued or unknown handles
func InvalidHandle(op string, handle uint64) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidHandle,
		Op:     op,
		Detail: fmt.Sprintf("handle %d is not live", handle),
		Value:  handle,
	}
}

// KindMismatch creates an error for a handle whose tag does not match the expected kind
func KindMismatch(op string, want, got fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindTypeMismatch,
		Op:     op,
		Detail: fmt.Sprintf("expecting %q; given %q", want, got),
	}
}

// Consumed creates an error for a handle already moved into an operation
func Consumed(op string, handle uint64) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindConsumed,
		Op:     op,
		Detail: fmt.Sprintf("handle %d was consumed by a previous operation", handle),
		Value:  handle,
	}
}

// Busy creates an error for a handle that cannot be consumed while borrowed
func Busy(op string, handle uint64) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindBusy,
		Op:     op,
		Detail: fmt.Sprintf("handle %d has outstanding borrows", handle),
		Value:  handle,
	}
}

// Native wraps an engine-reported failure. The cause is kept intact.
func Native(op string, cause error) *Error {
	return &Error{
		Phase: PhaseNative,
		Kind:  KindEngineFailure,
		Op:    op,
		Cause: cause,
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

// Timeout creates an error for a pending result abandoned by its deadline
func Timeout(op string, cause error) *Error {
	return &Error{
		Phase: PhaseNative,
		Kind:  KindTimeout,
		Op:    op,
		Cause: cause,
	}
}

// Canceled creates an error for a pending result abandoned by cancellation
func Canceled(op string, cause error) *Error {
	return &Error{
		Phase: PhaseNative,
		Kind:  KindCanceled,
		Op:    op,
		Cause: cause,
	}
}

// Config creates a configuration error
func Config(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

package async

import (
	"context"
	stderrors "errors"

	"github.com/wippyai/imager/errors"
)

// ErrorKind categorizes errors for integration with external error handling.
type ErrorKind string

const (
	KindUnknown  ErrorKind = "Unknown"
	KindCanceled ErrorKind = "Canceled"
	KindTimeout  ErrorKind = "Timeout"
	KindInternal ErrorKind = "Internal"
	KindInvalid  ErrorKind = "Invalid"
	KindNotFound ErrorKind = "NotFound"
)

// ClassifyError maps an operation error onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if stderrors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		return KindUnknown
	}
	switch e.Kind {
	case errors.KindTimeout:
		return KindTimeout
	case errors.KindCanceled:
		return KindCanceled
	case errors.KindNotFound:
		return KindNotFound
	case errors.KindInvalidHandle, errors.KindTypeMismatch, errors.KindConsumed,
		errors.KindBusy, errors.KindInvalidInput, errors.KindUnsupported:
		return KindInvalid
	case errors.KindEngineFailure, errors.KindNotInitialized:
		return KindInternal
	}
	return KindUnknown
}

// Abandoned converts a context error into the structured error reported for
// a pending result given up on before the engine finished.
func Abandoned(op string, cause error) error {
	if stderrors.Is(cause, context.DeadlineExceeded) {
		return errors.Timeout(op, cause)
	}
	return errors.Canceled(op, cause)
}

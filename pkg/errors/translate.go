package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"syscall"
)

// Sentinels for errors.Is comparisons. They match any *Error with the same code.
var (
	ErrNotFound              = &Error{Code: ErrCodeFileNotFound}
	ErrPermissionDenied      = &Error{Code: ErrCodePermissionDenied}
	ErrNotDirectory          = &Error{Code: ErrCodeNotDirectory}
	ErrNotEmpty              = &Error{Code: ErrCodeNotEmpty}
	ErrInvalidPath           = &Error{Code: ErrCodePathInvalid}
	ErrInvalidOffset         = &Error{Code: ErrCodeInvalidOffset}
	ErrOperationNotPermitted = &Error{Code: ErrCodeOperationNotPermitted}
	ErrUnexpectedIO          = &Error{Code: ErrCodeUnexpectedIO}
	ErrLimitExceeded         = &Error{Code: ErrCodeLimitExceeded}
)

// NotFound builds a FILE_NOT_FOUND error.
func NotFound(format string, args ...interface{}) *Error {
	return NewError(ErrCodeFileNotFound, fmt.Sprintf(format, args...))
}

// PermissionDenied builds a PERMISSION_DENIED error reported as EACCES.
func PermissionDenied(format string, args ...interface{}) *Error {
	return NewError(ErrCodePermissionDenied, fmt.Sprintf(format, args...))
}

// NotDirectory builds a NOT_DIRECTORY error.
func NotDirectory(format string, args ...interface{}) *Error {
	return NewError(ErrCodeNotDirectory, fmt.Sprintf(format, args...))
}

// NotEmpty builds a NOT_EMPTY error.
func NotEmpty(format string, args ...interface{}) *Error {
	return NewError(ErrCodeNotEmpty, fmt.Sprintf(format, args...))
}

// InvalidPath builds a PATH_INVALID error.
func InvalidPath(format string, args ...interface{}) *Error {
	return NewError(ErrCodePathInvalid, fmt.Sprintf(format, args...))
}

// InvalidOffset builds an INVALID_OFFSET error.
func InvalidOffset(offset int64) *Error {
	return NewError(ErrCodeInvalidOffset, "Invalid offset").WithDetail("offset", offset)
}

// NotPermitted builds an OPERATION_NOT_PERMITTED error.
func NotPermitted(format string, args ...interface{}) *Error {
	return NewError(ErrCodeOperationNotPermitted, fmt.Sprintf(format, args...))
}

// UnexpectedIO builds an UNEXPECTED_IO error.
func UnexpectedIO(format string, args ...interface{}) *Error {
	return NewError(ErrCodeUnexpectedIO, fmt.Sprintf(format, args...))
}

// statusCarrier is implemented by storage adapter errors that know the HTTP
// status the object store answered with.
type statusCarrier interface {
	HTTPStatus() int
}

// Translate classifies a storage failure into the taxonomy. It is the only place
// storage statuses are interpreted; errors already in the taxonomy pass through.
func Translate(err error, op, path string) error {
	if err == nil {
		return nil
	}

	var taxonomyErr *Error
	if stderrors.As(err, &taxonomyErr) {
		return err
	}

	var sc statusCarrier
	if !stderrors.As(err, &sc) {
		reason := err.Error()
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			reason = "request aborted: " + reason
		}
		return UnexpectedIO("Unexpected I/O error: %s", reason).
			WithOperation(op).WithPath(path).WithCause(err)
	}

	status := sc.HTTPStatus()
	var out *Error
	switch status {
	case http.StatusNotFound:
		out = NotFound("%s", err.Error())
	case http.StatusBadRequest:
		out = PermissionDenied("%s", err.Error()).WithErrno(syscall.EPERM)
	case http.StatusUnauthorized, http.StatusForbidden:
		out = PermissionDenied("%s", err.Error())
	case http.StatusConflict:
		out = NotEmpty("%s", err.Error())
	default:
		out = UnexpectedIO("Unexpected I/O error: status %d: %s", status, err.Error())
	}
	out.HTTPStatus = status
	return out.WithDetail("status", status).WithOperation(op).WithPath(path).WithCause(err)
}

// Errno returns the errno associated with err, EIO for foreign errors.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Errno
	}
	return syscall.EIO
}

// Code returns the taxonomy code of err, ErrCodeUnexpectedIO for foreign errors.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnexpectedIO
}

// Is reports whether err matches target; it re-exports the standard library
// helper so callers importing this package need not alias it.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

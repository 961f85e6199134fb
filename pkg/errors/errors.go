// Package errors provides the structured error taxonomy used by the gateway. Every
// failure that reaches the protocol layer is an *Error carrying a code, a category,
// the POSIX errno the protocol layer should report, and enough context to diagnose it.
package errors

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"time"
)

// ErrorCode represents a structured error code.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Filesystem taxonomy
	ErrCodeFileNotFound          ErrorCode = "FILE_NOT_FOUND"
	ErrCodePermissionDenied      ErrorCode = "PERMISSION_DENIED"
	ErrCodeNotDirectory          ErrorCode = "NOT_DIRECTORY"
	ErrCodeNotEmpty              ErrorCode = "NOT_EMPTY"
	ErrCodePathInvalid           ErrorCode = "PATH_INVALID"
	ErrCodeInvalidOffset         ErrorCode = "INVALID_OFFSET"
	ErrCodeOperationNotPermitted ErrorCode = "OPERATION_NOT_PERMITTED"
	ErrCodeUnexpectedIO          ErrorCode = "UNEXPECTED_IO"

	// Session errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeLimitExceeded        ErrorCode = "LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryArgument      ErrorCategory = "argument"
	CategoryStorage       ErrorCategory = "storage"
	CategoryAuth          ErrorCategory = "auth"
	CategoryResource      ErrorCategory = "resource"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error with context and metadata.
type Error struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Errno    syscall.Errno          `json:"errno"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Path      string `json:"path,omitempty"`

	// HTTPStatus is the storage status that produced the error, zero for local failures.
	HTTPStatus int `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	switch {
	case e.Component != "" && e.Operation != "":
		fmt.Fprintf(&b, "[%s:%s] ", e.Component, e.Operation)
	case e.Component != "":
		fmt.Fprintf(&b, "[%s] ", e.Component)
	case e.Operation != "":
		fmt.Fprintf(&b, "[%s] ", e.Operation)
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, and the io/fs sentinels by meaning, so callers
// can test either errors.Is(err, ErrNotFound) or errors.Is(err, fs.ErrNotExist).
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	switch target {
	case fs.ErrNotExist:
		return e.Code == ErrCodeFileNotFound
	case fs.ErrPermission:
		return e.Code == ErrCodePermissionDenied || e.Code == ErrCodeOperationNotPermitted
	case fs.ErrInvalid:
		return e.Code == ErrCodePathInvalid || e.Code == ErrCodeInvalidOffset
	}
	return false
}

// String returns a detailed representation for logging.
func (e *Error) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Errno=%d", int(e.Errno)),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path=%s", e.Path))
	}
	if e.HTTPStatus != 0 {
		parts = append(parts, fmt.Sprintf("HTTPStatus=%d", e.HTTPStatus))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with the default category and errno for code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Errno:     DefaultErrno(code),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeFileNotFound, ErrCodePermissionDenied, ErrCodeNotDirectory, ErrCodeNotEmpty,
		ErrCodeOperationNotPermitted:
		return CategoryFilesystem
	case ErrCodePathInvalid, ErrCodeInvalidOffset:
		return CategoryArgument
	case ErrCodeUnexpectedIO:
		return CategoryStorage
	case ErrCodeAuthenticationFailed:
		return CategoryAuth
	case ErrCodeLimitExceeded:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// DefaultErrno returns the POSIX errno the protocol layer reports for code.
func DefaultErrno(code ErrorCode) syscall.Errno {
	switch code {
	case ErrCodeFileNotFound, ErrCodePathInvalid:
		return syscall.ENOENT
	case ErrCodePermissionDenied, ErrCodeAuthenticationFailed:
		return syscall.EACCES
	case ErrCodeNotDirectory:
		return syscall.ENOTDIR
	case ErrCodeNotEmpty:
		return syscall.ENOTEMPTY
	case ErrCodeInvalidOffset, ErrCodeInvalidConfig, ErrCodeConfigValidation:
		return syscall.EINVAL
	case ErrCodeOperationNotPermitted:
		return syscall.EPERM
	case ErrCodeLimitExceeded:
		return syscall.EAGAIN
	default:
		return syscall.EIO
	}
}

// WithContext adds contextual information to an error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithPath records the virtual path the operation was applied to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithErrno overrides the default errno.
func (e *Error) WithErrno(errno syscall.Errno) *Error {
	e.Errno = errno
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

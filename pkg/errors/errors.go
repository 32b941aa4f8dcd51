package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrTransient
	ErrSessionExpired
	ErrDeactivated
	ErrConflict
)

// Notice is the {title, message} shape handed to the notification layer.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Uniform user-facing messages. Authorization failures never say whether the
// account exists.
const (
	MsgInvalidCredentials = "The email or password you entered is incorrect."
	MsgEmailNotApproved   = "We could not sign you in with that email address."
	MsgSessionExpired     = "Your session has ended. Please sign in again."
	MsgTryAgain           = "Something went wrong. Please try again."
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Title:   "Not found",
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Title:   "Invalid request",
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Title:   "Error",
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Title:   "Sign-in failed",
		Message: "unauthorized",
		Err:     err,
	}
}

// Validation is a local precondition failure. It never reaches the backend.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Title:   "Please check your input",
		Message: message,
	}
}

// Authorization is a remote rejection surfaced with a caller-chosen uniform message.
func Authorization(message string, err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Title:   "Sign-in failed",
		Message: message,
		Err:     err,
	}
}

// Transient wraps a backend call that failed and may be retried.
func Transient(err error) *AppError {
	return &AppError{
		Code:    ErrTransient,
		Title:   "Connection problem",
		Message: MsgTryAgain,
		Err:     err,
	}
}

func SessionExpired() *AppError {
	return &AppError{
		Code:    ErrSessionExpired,
		Title:   "Session expired",
		Message: MsgSessionExpired,
	}
}

// Deactivated looks identical to SessionExpired to the user; only the code differs.
func Deactivated(err error) *AppError {
	return &AppError{
		Code:    ErrDeactivated,
		Title:   "Session expired",
		Message: MsgSessionExpired,
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Title:   "Not allowed",
		Message: message,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Title:   "Please wait",
		Message: message,
	}
}

// CodeOf returns the AppError code carried by err, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// NoticeFor normalizes any error into a user-displayable notice.
func NoticeFor(err error) Notice {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		title := appErr.Title
		if title == "" {
			title = "Error"
		}
		if appErr.Code == ErrInternal {
			return Notice{Title: title, Message: MsgTryAgain}
		}
		return Notice{Title: title, Message: appErr.Message}
	}
	return Notice{Title: "Error", Message: MsgTryAgain}
}

// HTTPStatus maps an error to the response status used by the handlers.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrSessionExpired, ErrDeactivated:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

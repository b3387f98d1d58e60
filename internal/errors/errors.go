// Package errors provides the typed error values shared by the tree model,
// the store-backed services and the HTTP layer. Store adapter failures are
// always converted to one of these before they leave a service.
package errors

import (
	"context"
	stderrors "errors"
	"net/http"
)

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is matches any AppError carrying the same code, so copies produced by Wrap
// and WithMessage still match their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// Is reports whether err is, or wraps, an AppError with the sentinel's code.
func Is(err error, sentinel *AppError) bool {
	return stderrors.Is(err, sentinel)
}

// As extracts the AppError from err. Errors that are not AppErrors come back
// wrapped in ErrInternalServer.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrInternalServer, err)
}

// FromStore converts a raw document store failure into StoreTimeout or
// StoreUnavailable. AppErrors pass through untouched.
func FromStore(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrStoreTimeout, err)
	}
	return Wrap(ErrStoreUnavailable, err)
}

// Tree and input errors.
var (
	ErrNotFound     = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrEmptyName    = &AppError{Code: "EMPTY_NAME", Message: "Name must not be blank", StatusCode: http.StatusBadRequest}
	ErrInvalidIndex = &AppError{Code: "INVALID_INDEX", Message: "Index out of range", StatusCode: http.StatusBadRequest}
	ErrValidation   = &AppError{Code: "VALIDATION_ERROR", Message: "Validation failed", StatusCode: http.StatusBadRequest}
	ErrInvalidTree  = &AppError{Code: "INVALID_TREE", Message: "Category tree is malformed", StatusCode: http.StatusUnprocessableEntity}
)

// Store errors.
var (
	ErrStoreTimeout     = &AppError{Code: "STORE_TIMEOUT", Message: "Store did not respond in time", StatusCode: http.StatusGatewayTimeout}
	ErrStoreUnavailable = &AppError{Code: "STORE_UNAVAILABLE", Message: "Store is unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrImageUpload      = &AppError{Code: "IMAGE_UPLOAD_FAILED", Message: "Image upload failed, item was not created", StatusCode: http.StatusBadGateway}
)

// Editor session errors.
var (
	ErrConcurrentOverwriteRisk = &AppError{Code: "CONCURRENT_OVERWRITE_RISK", Message: "Another save is still in progress", StatusCode: http.StatusConflict}
	ErrInvalidState            = &AppError{Code: "INVALID_STATE", Message: "Action not allowed in the current editor state", StatusCode: http.StatusConflict}
)

// General errors.
var (
	ErrUnauthorized   = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

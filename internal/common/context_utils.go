package common

import (
	"context"
	"net/http"

	apperrors "labstock/internal/errors"
	"labstock/internal/logger"
	"labstock/internal/validator"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// CreateErrorResponse creates a standardized error response
func CreateErrorResponse(code string, message string, details map[string]string) *ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	return &resp
}

// SendAppError writes err with the status and code of the AppError it wraps.
// Anything else is reported as an internal error and logged.
func SendAppError(c echo.Context, err error) error {
	appErr := apperrors.As(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Named("http").Errorw("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"code", appErr.Code,
			"error", err,
		)
	}
	var details map[string]string
	if apperrors.Is(err, apperrors.ErrValidation) {
		details = validator.Describe(err)
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, CreateErrorResponse(appErr.Code, appErr.Message, details))
}

// SendValidationError sends a validation error response
func SendValidationError(c echo.Context, field, message string) error {
	details := map[string]string{
		field: message,
	}
	return c.JSON(http.StatusBadRequest, CreateErrorResponse(apperrors.ErrValidation.Code, apperrors.ErrValidation.Message, details))
}

// SendClientError sends a client error response
func SendClientError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, CreateErrorResponse("CLIENT_ERROR", message, nil))
}

// SendNotFoundError sends a not found error response
func SendNotFoundError(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, CreateErrorResponse(apperrors.ErrNotFound.Code, message, nil))
}

// SendUnauthorizedError sends an unauthorized error response
func SendUnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, CreateErrorResponse(apperrors.ErrUnauthorized.Code, apperrors.ErrUnauthorized.Message, nil))
}

// WithUserID stores the authenticated subject on the context.
func WithUserID(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, UserIDKey, subject)
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

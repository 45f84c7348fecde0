// ABOUTME: Centralized error handling for the Echo ops server
// ABOUTME: Returns consistent JSON errors and hides internal details on 5xx
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the client-safe error description.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler creates the centralized HTTP error handler. Client errors pass
// their message through; server errors log the cause and return a generic
// message so internals never leak.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ctx := c.Request().Context()
		requestID := RequestIDFromContext(ctx)

		status := http.StatusInternalServerError
		message := "An unexpected error occurred. Please try again later."
		code := "INTERNAL_ERROR"

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			code = "HTTP_ERROR"
			if msg, ok := httpErr.Message.(string); ok && status < 500 {
				message = msg
			}
		}

		if status >= 500 {
			logger.ErrorContext(ctx, "request failed",
				"request_id", requestID,
				"status", status,
				"error", err)
		} else {
			logger.WarnContext(ctx, "request rejected",
				"request_id", requestID,
				"status", status,
				"error", err)
		}

		response := ErrorResponse{
			Error: ErrorDetail{
				Code:      code,
				Message:   message,
				RequestID: requestID,
			},
		}

		if writeErr := c.JSON(status, response); writeErr != nil {
			logger.ErrorContext(ctx, "failed to send error response",
				"request_id", requestID,
				"error", writeErr)
		}
	}
}

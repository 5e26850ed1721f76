package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced in the HTTP envelope.
const (
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidFormat       = "INVALID_FORMAT"
	CodeAnomalyDetected     = "ANOMALY_DETECTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeDocumentNotFound    = "DOCUMENT_NOT_FOUND"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeEncryptionFailure   = "ENCRYPTION_FAILURE"
	CodeJobDispatchFailure  = "JOB_DISPATCH_FAILURE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// AppError is the structured error type carried from services to the HTTP layer.
// The middleware renders it as {status:"error", code, detail}.
type AppError struct {
	Code   string `json:"code"`
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// AsAppError unwraps err into an *AppError if one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func ErrAccessDenied(reason string) *AppError {
	return &AppError{Code: CodeAccessDenied, Status: http.StatusForbidden, Detail: reason}
}

func ErrUnauthorized(reason string) *AppError {
	return &AppError{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Detail: reason}
}

func ErrInvalidRequest(reason string) *AppError {
	return &AppError{Code: CodeInvalidRequest, Status: http.StatusBadRequest, Detail: reason}
}

func ErrInvalidFormat(reason string) *AppError {
	return &AppError{Code: CodeInvalidFormat, Status: http.StatusUnprocessableEntity, Detail: reason}
}

func ErrAnomalyDetected(reason string) *AppError {
	return &AppError{Code: CodeAnomalyDetected, Status: http.StatusBadRequest, Detail: reason}
}

func ErrRateLimited() *AppError {
	return &AppError{Code: CodeRateLimited, Status: http.StatusTooManyRequests, Detail: "rate limit exceeded"}
}

func ErrQuotaExceeded(reason string) *AppError {
	return &AppError{Code: CodeQuotaExceeded, Status: http.StatusTooManyRequests, Detail: reason}
}

func ErrDocumentNotFound(id string) *AppError {
	return &AppError{Code: CodeDocumentNotFound, Status: http.StatusNotFound, Detail: fmt.Sprintf("document not found: %s", id)}
}

func ErrJobNotFound(id string) *AppError {
	return &AppError{Code: CodeJobNotFound, Status: http.StatusNotFound, Detail: fmt.Sprintf("job not found: %s", id)}
}

func ErrUpstreamUnavailable(reason string) *AppError {
	return &AppError{Code: CodeUpstreamUnavailable, Status: http.StatusServiceUnavailable, Detail: reason}
}

func ErrEncryptionFailure(reason string) *AppError {
	return &AppError{Code: CodeEncryptionFailure, Status: http.StatusInternalServerError, Detail: reason}
}

func ErrJobDispatchFailure(reason string) *AppError {
	return &AppError{Code: CodeJobDispatchFailure, Status: http.StatusInternalServerError, Detail: reason}
}

func ErrInternal(correlationID string) *AppError {
	return &AppError{
		Code:   CodeInternalError,
		Status: http.StatusInternalServerError,
		Detail: fmt.Sprintf("internal error (correlation_id=%s)", correlationID),
	}
}

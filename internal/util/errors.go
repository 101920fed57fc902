package util

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation     = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrUpstream       = errors.New("upstream service error")
	ErrEmbedding      = errors.New("embedding failed")
	ErrGeneration     = errors.New("generation failed")
	ErrIndexIntegrity = errors.New("vector index artifacts inconsistent")

	ErrNoExtractableText = errors.New("no extractable text found in PDF")
)

// AppError carries a sentinel, a human-readable message, and the HTTP status
// the API layer should respond with.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func E(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Ef(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{Err: sentinel, Message: fmt.Sprintf(format, args...), StatusCode: statusCode}
}

// HTTPStatusCode maps an error to a response status. An explicit AppError
// wins; otherwise the sentinel chain decides.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrEmbedding), errors.Is(err, ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput signals malformed or empty caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidConfiguration signals a bad batch size, top-k or client setting.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrService signals a server fault (5xx) on the embedding service.
	ErrService = errors.New("embedding service error")
	// ErrRequestRejected signals that the embedding service rejected the request (4xx).
	ErrRequestRejected = errors.New("request rejected")
	// ErrMalformedResponse signals a response body that does not match the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrIndexNotFound signals a vector store operation on an absent index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrBudgetExceeded signals that the configured credit budget is used up.
	ErrBudgetExceeded = errors.New("credit budget exceeded")
	// ErrIncompatibleBackend signals a facade/backend concurrency model mismatch.
	ErrIncompatibleBackend = fmt.Errorf("incompatible vector store backend: %w", ErrInvalidConfiguration)
)

// ServiceError wraps ErrService with the raw response of a failed call.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrService.Error(), e.StatusCode, e.Body)
}

func (e *ServiceError) Unwrap() error { return ErrService }

// RequestRejectedError wraps ErrRequestRejected with the raw response of a rejected call.
type RequestRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrRequestRejected.Error(), e.StatusCode, e.Body)
}

func (e *RequestRejectedError) Unwrap() error { return ErrRequestRejected }

// StatusError maps an HTTP status to the error taxonomy.
// Returns nil for 2xx. 5xx becomes *ServiceError, every other status *RequestRejectedError.
func StatusError(code int, body []byte) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code >= http.StatusInternalServerError:
		return &ServiceError{StatusCode: code, Body: string(body)}
	default:
		return &RequestRejectedError{StatusCode: code, Body: string(body)}
	}
}

// BatchError reports the chunk that aborted a multi-batch embedding.
// CreditsSpent holds what the chunks that did succeed were charged; those
// credits are not refunded and no partial response is returned.
type BatchError struct {
	Batch        int
	Size         int
	CreditsSpent int
	Err          error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d units, %d credits already spent): %v",
		e.Batch, e.Size, e.CreditsSpent, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

package midras

import (
	"github.com/midras-ai/midras/internal/db"
	"github.com/midras-ai/midras/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput         = domain.ErrInvalidInput
	ErrInvalidConfiguration = domain.ErrInvalidConfiguration
	ErrService              = domain.ErrService
	ErrRequestRejected      = domain.ErrRequestRejected
	ErrMalformedResponse    = domain.ErrMalformedResponse
	ErrIndexNotFound        = domain.ErrIndexNotFound
	ErrIncompatibleBackend  = domain.ErrIncompatibleBackend
	ErrBudgetExceeded       = domain.ErrBudgetExceeded
	ErrCacheMiss            = db.ErrKeyNotFound
)

// Typed errors. Use errors.As() to inspect.
type (
	// ServiceError carries the raw body of a 5xx response.
	ServiceError = domain.ServiceError
	// RequestRejectedError carries the raw body of a rejected (4xx) request.
	RequestRejectedError = domain.RequestRejectedError
	// BatchError reports which batch aborted a multi-batch embedding and the
	// credits already charged for the batches before it.
	BatchError = domain.BatchError
)

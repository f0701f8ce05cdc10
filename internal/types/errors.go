package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for TenantKeeper request validation.
var (
	// ErrNilRequest indicates a nil RewriteRequest was supplied.
	ErrNilRequest = errors.New("rewrite request is nil")

	// ErrEmptySQL indicates the request carries no SQL text.
	ErrEmptySQL = errors.New("sql text is empty")

	// ErrMissingTenantID indicates the request carries no tenant identifier.
	ErrMissingTenantID = errors.New("tenant id is required")

	// ErrUnknownProvider indicates the request names no supported dialect.
	ErrUnknownProvider = errors.New("unknown sql provider")

	// ErrNonPositiveLimit indicates a resource limit was zero or negative.
	ErrNonPositiveLimit = errors.New("resource limit must be positive")
)

// TenantRewriteError is the single error type raised by the legacy
// convenience wrapper. Call sites that prefer errors over tagged results
// receive the failure's diagnostic message through this type; the bounded
// Reason survives for callers that still need to classify.
type TenantRewriteError struct {
	Reason  FailureReason
	Message string
}

// Error implements the error interface.
func (e *TenantRewriteError) Error() string {
	return fmt.Sprintf("tenant sql rewrite failed (%s): %s", e.Reason.Code(), e.Message)
}

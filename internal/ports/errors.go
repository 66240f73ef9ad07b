package ports

import "errors"

// Trade outcome errors. Every failed trade wraps exactly one of these so that
// callers can branch with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid trade input")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrPricingUnavailable  = errors.New("pricing service unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInternalFailure     = errors.New("internal failure")
)

// Standard infrastructure-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Price Source Errors
	ErrConnectionFailed     = errors.New("failed to connect to the price source")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("price source authentication failed (check API keys)")
	ErrSourceUnavailable    = errors.New("price source returned a server error")
	ErrMalformedResponse    = errors.New("price source returned a malformed response")
	ErrBreakerOpen          = errors.New("circuit breaker is open")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// Reason codes reported to callers alongside a failed trade.
const (
	ReasonInvalidInput        = "INVALID_INPUT"
	ReasonAssetNotFound       = "ASSET_NOT_FOUND"
	ReasonPricingUnavailable  = "PRICING_UNAVAILABLE"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonInternalFailure     = "INTERNAL_FAILURE"
)

// Reason maps err to its trade outcome code. Errors outside the taxonomy are
// reported as internal failures; a nil error yields "".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalidInput
	case errors.Is(err, ErrAssetNotFound):
		return ReasonAssetNotFound
	case errors.Is(err, ErrPricingUnavailable):
		return ReasonPricingUnavailable
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance
	default:
		return ReasonInternalFailure
	}
}

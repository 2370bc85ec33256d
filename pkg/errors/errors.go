// Package apperrors defines the stable internal error set every venue
// adapter normalizes to, plus the classification used by retry layers.
package apperrors

import (
	"context"
	"errors"
	"net"
	"time"
)

// Standardized exchange errors.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrInvalidOrder         = errors.New("invalid order parameter")
	ErrMinNotional          = errors.New("order below minimum notional")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrDDoSProtection       = errors.New("ddos protection triggered")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrExchangeMaintenance  = errors.New("exchange maintenance")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrder       = errors.New("duplicate order")
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrUnhealthy            = errors.New("data source unhealthy")
)

// Minimum waits mandated after throttling responses.
const (
	RateLimitWait = 60 * time.Second
	DDoSWait      = 120 * time.Second
)

// IsRetryable reports whether the error is transient and the call
// may be repeated. Authentication, configuration, and order-shape
// errors are terminal.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrConfigurationInvalid),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrMinNotional),
		errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrDuplicateOrder),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrDDoSProtection),
		errors.Is(err, ErrNetwork),
		errors.Is(err, ErrExchangeMaintenance),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsTerminal reports whether the error must halt the affected worker.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrConfigurationInvalid)
}

// RetryDelay returns the minimum wait to honor before retrying err,
// or zero if the standard backoff applies.
func RetryDelay(err error) time.Duration {
	switch {
	case errors.Is(err, ErrDDoSProtection):
		return DDoSWait
	case errors.Is(err, ErrRateLimitExceeded):
		return RateLimitWait
	default:
		return 0
	}
}

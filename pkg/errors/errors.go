// Package apperrors defines the error taxonomy shared across the bot
package apperrors

import (
	"errors"
	"fmt"
)

// Standardized errors
var (
	// Transient venue errors, retried with backoff
	ErrNetwork             = errors.New("network error")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")

	// Operation failures, logged but never halting
	ErrOrderRejected = errors.New("order rejected")
	ErrOrderNotFound = errors.New("order not found")

	// Startup and admission failures
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrHalted              = errors.New("trading halted")
	ErrNotConnected        = errors.New("adapter not connected")

	// Fatal: ledger invariants broke, the bot must emergency-stop
	ErrInvariantViolation = errors.New("invariant violation")

	ErrShutdown = errors.New("shutting down")
)

// IsTransient reports whether err should be retried. Only network,
// availability and throttling errors qualify; everything else either
// succeeded at the venue or will never succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimitExceeded)
}

// Wrap annotates err with a message, preserving the sentinel chain
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf annotates err with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

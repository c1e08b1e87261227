package types

import (
	"context"
	"errors"
)

// SwapsError is the closed set of error keys surfaced in State.ErrorKey.
type SwapsError string

func (e SwapsError) Error() string { return string(e) }

const (
	ErrQuotesExpired         SwapsError = "quotes-expired"
	ErrSwapFailed            SwapsError = "swap-failed-error"
	ErrFetchingQuotes        SwapsError = "error-fetching-quotes"
	ErrQuotesNotAvailable    SwapsError = "quotes-not-available"
	ErrOfflineForMaintenance SwapsError = "offline-for-maintenance"
	ErrFetchOrderConflict    SwapsError = "swaps-fetch-order-conflict"
)

// Known reports whether e is part of the taxonomy.
func (e SwapsError) Known() bool {
	switch e {
	case ErrQuotesExpired, ErrSwapFailed, ErrFetchingQuotes,
		ErrQuotesNotAvailable, ErrOfflineForMaintenance, ErrFetchOrderConflict:
		return true
	}
	return false
}

// Classify maps any error to a SwapsError. Wrapped known keys pass through,
// a bare context cancellation counts as a superseded fetch and everything
// else is ErrFetchingQuotes. A nil error stays empty.
func Classify(err error) SwapsError {
	if err == nil {
		return ""
	}
	var se SwapsError
	if errors.As(err, &se) && se.Known() {
		return se
	}
	if errors.Is(err, context.Canceled) {
		return ErrFetchOrderConflict
	}
	return ErrFetchingQuotes
}

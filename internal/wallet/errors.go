package wallet

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrWalletNotFound indicates no wallet exists for the requested id.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds occurs when a withdrawal exceeds the current balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidOperationType is returned for operations other than deposit and
	// withdraw, and is the parent of every invalid input error.
	ErrInvalidOperationType = errors.New("invalid operation type")

	// ErrInvalidAmount rejects zero, negative or unparsable amounts.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be a positive number", ErrInvalidOperationType)

	// ErrAmountOutOfRange rejects amounts and balances with more than MaxScale
	// fractional digits or too many integer digits.
	ErrAmountOutOfRange = fmt.Errorf("%w: amount exceeds %d integer or %d fractional digits", ErrInvalidOperationType, maxIntegerDigits, MaxScale)

	// ErrContention means the wallet lock could not be acquired in time. The
	// whole operation may be retried.
	ErrContention = errors.New("wallet is being updated by another operation, please try again")

	// ErrWalletExists is returned when provisioning reuses an existing id.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrScopeReleased is returned when writing back through a released scope.
	ErrScopeReleased = errors.New("wallet lock scope already released")
)

// StatusCode maps a service error to the HTTP status reported to clients.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidOperationType), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrContention), errors.Is(err, ErrWalletExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicErrors are the kinds whose own message is shown to clients, most
// specific first.
var publicErrors = []error{
	ErrAmountOutOfRange,
	ErrInvalidAmount,
	ErrInvalidOperationType,
	ErrWalletNotFound,
	ErrInsufficientFunds,
	ErrContention,
	ErrWalletExists,
}

// PublicMessage returns the message of the kind err belongs to, without the
// wrapped detail. Unknown errors become "internal error".
func PublicMessage(err error) string {
	for _, kind := range publicErrors {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error"
}

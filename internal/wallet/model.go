package wallet

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Limits on the size of balances and amounts. They match the NUMERIC(28,8)
// column of the Postgres store.
const (
	MaxScale         = 8
	MaxPrecision     = 28
	maxIntegerDigits = MaxPrecision - MaxScale
	// 10^28 needs 94 bits; anything wider is out of range without counting digits.
	maxCoefficientBits = 96
)

// checkMagnitude rejects values with more than MaxScale fractional digits or
// more than maxIntegerDigits integer digits. Only O(1) checks run before the
// coefficient is known to be small.
func checkMagnitude(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp < -MaxScale || exp > maxIntegerDigits {
		return ErrAmountOutOfRange
	}
	if d.Coefficient().BitLen() > maxCoefficientBits {
		return ErrAmountOutOfRange
	}
	if !d.IsZero() && int(d.NumDigits())+int(exp) > maxIntegerDigits {
		return ErrAmountOutOfRange
	}
	return nil
}

// Wallet is a stored balance identified by an immutable UUID.
type Wallet struct {
	ID      uuid.UUID
	Balance decimal.Decimal
	// Version is bumped by every write-back.
	Version int64
}

// OperationType names a balance mutation.
type OperationType string

const (
	Deposit  OperationType = "DEPOSIT"
	Withdraw OperationType = "WITHDRAW"
)

// ParseOperationType accepts the operation name in any case.
func ParseOperationType(s string) (OperationType, error) {
	switch op := OperationType(strings.ToUpper(strings.TrimSpace(s))); op {
	case Deposit, Withdraw:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperationType, s)
	}
}

// OperationRequest captures a single balance mutation.
type OperationRequest struct {
	WalletID      uuid.UUID
	OperationType OperationType
	Amount        decimal.Decimal
}

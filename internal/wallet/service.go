package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service owns the balance rules. It never retries: contention is returned to
// the caller, who decides whether and when to resubmit.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateInput captures data required to provision a wallet.
type CreateInput struct {
	InitialBalance decimal.Decimal
}

// Create provisions a wallet with a fresh id.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if input.InitialBalance.IsNegative() {
		return Wallet{}, ErrInvalidAmount
	}
	if err := checkMagnitude(input.InitialBalance); err != nil {
		return Wallet{}, err
	}

	w := Wallet{ID: uuid.New(), Balance: input.InitialBalance}
	if err := s.store.Create(ctx, w); err != nil {
		return Wallet{}, err
	}

	s.logger.Info("wallet provisioned", slog.String("wallet_id", w.ID.String()), slog.String("balance", w.Balance.String()))
	return w, nil
}

// Balance returns the current balance without locking the wallet.
func (s *Service) Balance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	w, err := s.store.Lookup(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return w.Balance, nil
}

// Operate applies a deposit or withdrawal under the wallet's exclusive scope
// and returns the resulting balance. The write-back happens only after the
// change is validated; every other path leaves the wallet untouched.
func (s *Service) Operate(ctx context.Context, req OperationRequest) (decimal.Decimal, error) {
	if err := validate(req); err != nil {
		return decimal.Decimal{}, err
	}

	w, scope, err := s.store.LockedLookup(ctx, req.WalletID)
	if err != nil {
		if errors.Is(err, ErrContention) {
			s.logger.Warn("wallet lock contention",
				slog.String("wallet_id", req.WalletID.String()),
				slog.String("operation", string(req.OperationType)),
				slog.Any("error", err))
		}
		return decimal.Decimal{}, err
	}
	defer func() {
		if err := scope.Release(ctx); err != nil {
			s.logger.Error("release wallet scope", slog.String("wallet_id", req.WalletID.String()), slog.Any("error", err))
		}
	}()

	next, err := apply(w.Balance, req.OperationType, req.Amount)
	if err != nil {
		return decimal.Decimal{}, err
	}

	w.Balance = next
	if err := scope.WriteBack(ctx, &w); err != nil {
		return decimal.Decimal{}, fmt.Errorf("write back wallet %s: %w", w.ID, err)
	}

	s.logger.Debug("wallet operation applied",
		slog.String("wallet_id", w.ID.String()),
		slog.String("operation", string(req.OperationType)),
		slog.String("amount", req.Amount.String()),
		slog.String("balance", next.String()),
		slog.Int64("version", w.Version))
	return next, nil
}

func validate(req OperationRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := checkMagnitude(req.Amount); err != nil {
		return err
	}
	switch req.OperationType {
	case Deposit, Withdraw:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperationType, req.OperationType)
	}
}

func apply(balance decimal.Decimal, op OperationType, amount decimal.Decimal) (decimal.Decimal, error) {
	switch op {
	case Deposit:
		next := balance.Add(amount)
		if err := checkMagnitude(next); err != nil {
			return decimal.Decimal{}, fmt.Errorf("deposit would exceed the balance limit: %w", err)
		}
		return next, nil
	case Withdraw:
		if balance.LessThan(amount) {
			return decimal.Decimal{}, ErrInsufficientFunds
		}
		return balance.Sub(amount), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidOperationType, op)
	}
}

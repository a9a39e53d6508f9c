package wallet

import (
	"context"

	"github.com/google/uuid"
)

// Store persists wallets and hands out exclusive per-wallet scopes.
type Store interface {
	// Lookup returns a snapshot of the wallet without locking. It fails with
	// ErrWalletNotFound when the id is unknown.
	Lookup(ctx context.Context, id uuid.UUID) (Wallet, error)

	// LockedLookup acquires the exclusive scope for id and returns the wallet
	// as seen under it. Acquisition is bounded by the store's lock timeout;
	// failing to acquire yields ErrContention. When the wallet does not exist
	// the scope is released before returning ErrWalletNotFound and a nil Scope.
	LockedLookup(ctx context.Context, id uuid.UUID) (Wallet, Scope, error)

	// Create inserts a new wallet.
	Create(ctx context.Context, w Wallet) error
}

// Scope is an exclusive hold on one wallet obtained from LockedLookup.
type Scope interface {
	// WriteBack durably stores w as the wallet's new state and increments
	// w.Version. The new balance becomes visible to lookups as a whole.
	WriteBack(ctx context.Context, w *Wallet) error

	// Release gives up the scope. Only the first call has an effect.
	Release(ctx context.Context) error
}

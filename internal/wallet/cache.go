package wallet

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// BalanceCache stores wallet snapshots for the read path.
type BalanceCache interface {
	// Get returns the cached wallet and whether it was present.
	Get(ctx context.Context, id uuid.UUID) (Wallet, bool, error)
	// Put stores w unless the cache already holds a newer Version, or a live
	// entry of the same Version.
	Put(ctx context.Context, w Wallet) error
	// Invalidate drops the cached balance for id but remembers version, so a
	// later Put of an older snapshot is refused. An entry that is already
	// newer than version is left alone.
	Invalidate(ctx context.Context, id uuid.UUID, version int64) error
}

// CachedStore decorates a Store with a read-through, write-through balance
// cache. Locked lookups always go to the underlying store.
type CachedStore struct {
	Store
	cache  BalanceCache
	logger *slog.Logger
}

// NewCachedStore wraps inner with cache.
func NewCachedStore(inner Store, cache BalanceCache, logger *slog.Logger) *CachedStore {
	return &CachedStore{Store: inner, cache: cache, logger: logger}
}

// Lookup serves from the cache when possible and fills it on a miss. Cache
// failures degrade to the underlying store.
func (s *CachedStore) Lookup(ctx context.Context, id uuid.UUID) (Wallet, error) {
	w, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("balance cache read failed", slog.String("wallet_id", id.String()), slog.Any("error", err))
	} else if ok {
		return w, nil
	}

	w, err = s.Store.Lookup(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	if err := s.cache.Put(ctx, w); err != nil {
		s.logger.Warn("balance cache fill failed", slog.String("wallet_id", id.String()), slog.Any("error", err))
	}
	return w, nil
}

// LockedLookup bypasses the cache and wraps the scope so write-backs refresh it.
func (s *CachedStore) LockedLookup(ctx context.Context, id uuid.UUID) (Wallet, Scope, error) {
	w, scope, err := s.Store.LockedLookup(ctx, id)
	if err != nil {
		return Wallet{}, nil, err
	}
	return w, &cachedScope{Scope: scope, store: s}, nil
}

func (s *CachedStore) Create(ctx context.Context, w Wallet) error {
	if err := s.Store.Create(ctx, w); err != nil {
		return err
	}
	if err := s.cache.Put(ctx, w); err != nil {
		s.logger.Warn("balance cache fill failed", slog.String("wallet_id", w.ID.String()), slog.Any("error", err))
	}
	return nil
}

type cachedScope struct {
	Scope
	store *CachedStore
}

func (sc *cachedScope) WriteBack(ctx context.Context, w *Wallet) error {
	if err := sc.Scope.WriteBack(ctx, w); err != nil {
		// The store may or may not have applied it; fence off the version it
		// would have written.
		sc.invalidate(ctx, w.ID, w.Version+1)
		return err
	}
	if err := sc.store.cache.Put(ctx, *w); err != nil {
		sc.store.logger.Warn("balance cache update failed", slog.String("wallet_id", w.ID.String()), slog.Any("error", err))
		sc.invalidate(ctx, w.ID, w.Version)
	}
	return nil
}

func (sc *cachedScope) invalidate(ctx context.Context, id uuid.UUID, version int64) {
	if err := sc.store.cache.Invalidate(ctx, id, version); err != nil {
		sc.store.logger.Error("balance cache invalidation failed",
			slog.String("wallet_id", id.String()),
			slog.Int64("version", version),
			slog.Any("error", err))
	}
}

package wallet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// keyLock is a one-slot semaphore; whoever put the token in holds the wallet.
type keyLock struct {
	token chan struct{}
	refs  int
}

// MemoryStore keeps wallets in process memory with per-wallet locks. Locks for
// different wallets are independent; an idle lock is dropped from the table.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]Wallet

	locksMu     sync.Mutex
	locks       map[uuid.UUID]*keyLock
	lockTimeout time.Duration
}

// NewMemoryStore creates a concurrency-safe in-memory store. lockTimeout bounds
// how long LockedLookup waits for another holder of the same wallet.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		wallets:     make(map[uuid.UUID]Wallet),
		locks:       make(map[uuid.UUID]*keyLock),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) Create(_ context.Context, w Wallet) error {
	if w.Balance.IsNegative() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return ErrWalletExists
	}
	s.wallets[w.ID] = w
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, id uuid.UUID) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *MemoryStore) LockedLookup(ctx context.Context, id uuid.UUID) (Wallet, Scope, error) {
	lock, err := s.acquire(ctx, id)
	if err != nil {
		return Wallet{}, nil, err
	}

	w, err := s.Lookup(ctx, id)
	if err != nil {
		s.release(id, lock)
		return Wallet{}, nil, err
	}

	return w, &memoryScope{store: s, id: id, lock: lock}, nil
}

func (s *MemoryStore) acquire(ctx context.Context, id uuid.UUID) (*keyLock, error) {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &keyLock{token: make(chan struct{}, 1)}
		s.locks[id] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case lock.token <- struct{}{}:
		return lock, nil
	case <-timer.C:
		s.unref(id, lock)
		return nil, fmt.Errorf("%w: lock wait exceeded %s", ErrContention, s.lockTimeout)
	case <-ctx.Done():
		s.unref(id, lock)
		return nil, fmt.Errorf("%w: %v", ErrContention, ctx.Err())
	}
}

func (s *MemoryStore) release(id uuid.UUID, lock *keyLock) {
	<-lock.token
	s.unref(id, lock)
}

func (s *MemoryStore) unref(id uuid.UUID, lock *keyLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, id)
	}
}

// lockCount reports how many wallets currently have a lock entry.
func (s *MemoryStore) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

type memoryScope struct {
	store    *MemoryStore
	id       uuid.UUID
	lock     *keyLock
	released atomic.Bool
}

func (sc *memoryScope) WriteBack(_ context.Context, w *Wallet) error {
	if sc.released.Load() {
		return ErrScopeReleased
	}
	if w.ID != sc.id {
		return fmt.Errorf("write back wallet %s through scope of %s", w.ID, sc.id)
	}
	if w.Balance.IsNegative() {
		return fmt.Errorf("write back wallet %s: negative balance %s", w.ID, w.Balance)
	}

	sc.store.mu.Lock()
	defer sc.store.mu.Unlock()
	if _, ok := sc.store.wallets[w.ID]; !ok {
		return ErrWalletNotFound
	}
	w.Version++
	sc.store.wallets[w.ID] = *w
	return nil
}

func (sc *memoryScope) Release(_ context.Context) error {
	if sc.released.CompareAndSwap(false, true) {
		sc.store.release(sc.id, sc.lock)
	}
	return nil
}

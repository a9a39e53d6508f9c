package wallet

import (
	"context"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	wallet Wallet
	// tombstone entries only carry a version.
	tombstone bool
}

// LRUCache is a bounded in-process BalanceCache.
type LRUCache struct {
	// mu makes the version check and the add one step.
	mu      sync.Mutex
	entries *lru.Cache[uuid.UUID, lruEntry]
}

// NewLRUCache builds a cache holding at most size wallets.
func NewLRUCache(size int) (*LRUCache, error) {
	entries, err := lru.New[uuid.UUID, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(_ context.Context, id uuid.UUID) (Wallet, bool, error) {
	e, ok := c.entries.Get(id)
	if !ok || e.tombstone {
		return Wallet{}, false, nil
	}
	return e.wallet, true, nil
}

func (c *LRUCache) Put(_ context.Context, w Wallet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries.Peek(w.ID); ok {
		if cur.wallet.Version > w.Version || (cur.wallet.Version == w.Version && !cur.tombstone) {
			return nil
		}
	}
	c.entries.Add(w.ID, lruEntry{wallet: w})
	return nil
}

func (c *LRUCache) Invalidate(_ context.Context, id uuid.UUID, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries.Peek(id); ok && cur.wallet.Version > version {
		return nil
	}
	c.entries.Add(id, lruEntry{wallet: Wallet{ID: id, Version: version}, tombstone: true})
	return nil
}

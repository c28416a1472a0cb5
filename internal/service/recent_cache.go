package service

import (
	"context"
	"sync"

	"solana-forensics/internal/core/domain"
)

// RecentTxCache is the in-memory ports.RecentTxCache: a bounded FIFO of
// transactions per watched address, deduplicated by signature.
type RecentTxCache struct {
	mu      sync.RWMutex
	size    int
	entries map[string][]domain.Transaction
}

// NewRecentTxCache creates a cache holding at most size transactions per address.
func NewRecentTxCache(size int) *RecentTxCache {
	if size < 1 {
		size = 1
	}
	return &RecentTxCache{size: size, entries: make(map[string][]domain.Transaction)}
}

// Add inserts tx and evicts the oldest entries beyond capacity. It reports
// false without changing anything when the signature is already cached.
func (c *RecentTxCache) Add(_ context.Context, address string, tx domain.Transaction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[address]
	for i := range list {
		if list[i].Signature == tx.Signature {
			return false, nil
		}
	}
	list = append(list, tx)
	if over := len(list) - c.size; over > 0 {
		list = append([]domain.Transaction(nil), list[over:]...)
	}
	c.entries[address] = list
	return true, nil
}

// Contains reports whether signature is cached for address.
func (c *RecentTxCache) Contains(_ context.Context, address, signature string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, tx := range c.entries[address] {
		if tx.Signature == signature {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot returns a copy of the cached transactions, oldest first.
func (c *RecentTxCache) Snapshot(_ context.Context, address string) ([]domain.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Transaction(nil), c.entries[address]...), nil
}

// Resize changes the capacity, trimming the oldest entries when shrinking.
func (c *RecentTxCache) Resize(size int) {
	if size < 1 {
		size = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = size
	for addr, list := range c.entries {
		if over := len(list) - size; over > 0 {
			c.entries[addr] = append([]domain.Transaction(nil), list[over:]...)
		}
	}
}

// Len returns the number of cached transactions for address.
func (c *RecentTxCache) Len(address string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[address])
}

package indexer

import (
	"context"
	"sync"
)

// ChainCache is the process-wide, read-mostly supported-chains cache
// described in §5: refreshed manually at startup and on an administrative
// call, never on the request path.
type ChainCache struct {
	mu        sync.RWMutex
	allocator string
	client    Client
	byChainID map[uint64]SupportedChain
}

func NewChainCache(client Client, allocator string) *ChainCache {
	return &ChainCache{client: client, allocator: allocator, byChainID: make(map[uint64]SupportedChain)}
}

// Refresh fetches the current supported-chain set and atomically swaps
// the cache contents.
func (c *ChainCache) Refresh(ctx context.Context) error {
	chains, err := c.client.GetSupportedChains(ctx, c.allocator)
	if err != nil {
		return err
	}
	next := make(map[uint64]SupportedChain, len(chains))
	for _, ch := range chains {
		next[ch.ChainID] = ch
	}
	c.mu.Lock()
	c.byChainID = next
	c.mu.Unlock()
	return nil
}

// Get returns the cached entry for a chain ID, if present.
func (c *ChainCache) Get(chainID uint64) (SupportedChain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.byChainID[chainID]
	return ch, ok
}

// Len reports how many chains are currently cached.
func (c *ChainCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byChainID)
}

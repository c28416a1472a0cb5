package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"solana-forensics/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// addScript pushes one entry onto the address list unless its signature is
// already known, then trims the list to ARGV[3] and forgets the signatures
// of evicted entries. Entries are stored as "<signature>|<json>".
var addScript = goredis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[2])
local size = tonumber(ARGV[3])
local evicted = redis.call('LRANGE', KEYS[1], size, -1)
if #evicted > 0 then
	redis.call('LTRIM', KEYS[1], 0, size - 1)
	for _, raw in ipairs(evicted) do
		local sig = string.match(raw, '^([^|]+)|')
		if sig then
			redis.call('SREM', KEYS[2], sig)
		end
	end
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// RecentTxCache implements ports.RecentTxCache on Redis so several monitor
// instances share one view of recently processed transactions.
type RecentTxCache struct {
	client *goredis.Client
	prefix string
	size   atomic.Int64
	ttl    time.Duration
}

// NewRecentTxCache creates a Redis-backed cache holding at most size
// transactions per address. Idle addresses expire after ttl; zero keeps
// them forever.
func NewRecentTxCache(client *goredis.Client, size int, ttl time.Duration) *RecentTxCache {
	c := &RecentTxCache{
		client: client,
		prefix: "forensics:recent:",
		ttl:    ttl,
	}
	c.Resize(size)
	return c
}

func (c *RecentTxCache) listKey(address string) string { return c.prefix + address + ":txs" }
func (c *RecentTxCache) sigKey(address string) string  { return c.prefix + address + ":sigs" }

// Add records tx for address. It returns false when the signature is
// already cached.
func (c *RecentTxCache) Add(ctx context.Context, address string, tx domain.Transaction) (bool, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return false, fmt.Errorf("encode transaction: %w", err)
	}
	added, err := addScript.Run(ctx, c.client,
		[]string{c.listKey(address), c.sigKey(address)},
		tx.Signature, tx.Signature+"|"+string(raw), c.size.Load(), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis recent cache add: %w", err)
	}
	return added == 1, nil
}

func (c *RecentTxCache) Contains(ctx context.Context, address, signature string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.sigKey(address), signature).Result()
	if err != nil {
		return false, fmt.Errorf("redis recent cache contains: %w", err)
	}
	return ok, nil
}

// Snapshot returns the cached transactions for address, oldest first.
func (c *RecentTxCache) Snapshot(ctx context.Context, address string) ([]domain.Transaction, error) {
	raws, err := c.client.LRange(ctx, c.listKey(address), 0, c.size.Load()-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent cache snapshot: %w", err)
	}

	out := make([]domain.Transaction, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		_, body, ok := strings.Cut(raws[i], "|")
		if !ok {
			continue
		}
		var tx domain.Transaction
		if err := json.Unmarshal([]byte(body), &tx); err != nil {
			return nil, fmt.Errorf("decode cached transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Resize changes the per-address capacity. Lists longer than the new size
// are trimmed on their next Add; Snapshot never returns more than size.
func (c *RecentTxCache) Resize(size int) {
	if size < 1 {
		size = 1
	}
	c.size.Store(int64(size))
}

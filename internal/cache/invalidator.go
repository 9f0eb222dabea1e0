// Package cache provides the control plane's post-mutation cache
// invalidation hook: every mutating operation invalidates any external
// response cache it knows about. The ingestion engine does not serve
// reads itself; it only publishes an invalidation signal so a downstream
// response cache (owned by the API layer) can drop its entries for a
// chain.
package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Invalidator publishes cache-invalidation events. A nil *Invalidator
// (constructed when no Redis address is configured) is a valid no-op.
type Invalidator struct {
	client  *redis.Client
	channel string
}

// New connects to addr (host:port). If addr is empty, New returns nil,
// and every method below becomes a safe no-op — operators who don't run
// a response cache don't need to run Redis either.
func New(addr, channel string) *Invalidator {
	if addr == "" {
		return nil
	}
	if channel == "" {
		channel = "chain-config-invalidations"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Invalidator{client: client, channel: channel}
}

// InvalidateChain announces that chainID's cached reads are stale.
func (i *Invalidator) InvalidateChain(ctx context.Context, chainID int64) error {
	if i == nil {
		return nil
	}
	return i.client.Publish(ctx, i.channel, fmt.Sprintf("chain:%d", chainID)).Err()
}

// Close releases the underlying connection.
func (i *Invalidator) Close() error {
	if i == nil {
		return nil
	}
	return i.client.Close()
}

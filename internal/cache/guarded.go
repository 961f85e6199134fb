package cache

import (
	"context"
	"time"

	"github.com/objectfs/objectftp/internal/circuit"
)

// GuardedTier wraps a SharedTier with a circuit breaker so a dead cache server
// costs one fast failure per call instead of a network timeout.
type GuardedTier struct {
	tier    SharedTier
	breaker *circuit.Breaker
}

// NewGuardedTier guards tier with breaker.
func NewGuardedTier(tier SharedTier, breaker *circuit.Breaker) *GuardedTier {
	return &GuardedTier{tier: tier, breaker: breaker}
}

func (g *GuardedTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		value, found, err = g.tier.Get(ctx, key)
		return err
	})
	return value, found, err
}

func (g *GuardedTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.tier.Set(ctx, key, value, ttl)
	})
}

func (g *GuardedTier) Delete(ctx context.Context, key string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.tier.Delete(ctx, key)
	})
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedTier) Breaker() *circuit.Breaker {
	return g.breaker
}

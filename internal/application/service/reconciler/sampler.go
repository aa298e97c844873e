package reconciler

import (
	"context"
	"fmt"

	pool "main/internal/domain/entity/pool"
	interfaces "main/internal/domain/interfaces"
)

// sampleLadder requests one quote per depth level 1..K. Levels are quoted
// sequentially: each level's price assumes the previous levels are filled,
// so the calls must not overlap. A level where the pool cannot service a
// side comes back with that side's price nil; the ladder is still valid.
// Only a transport failure against the oracle fails the whole pool event.
func sampleLadder(ctx context.Context, oracle interfaces.PriceOracle, poolAddress string, depth int, slippageBps int64) (pool.QuoteLadder, error) {
	ladder := make(pool.QuoteLadder, 0, depth)
	for level := 1; level <= depth; level++ {
		quote, err := oracle.Quote(ctx, poolAddress, level, slippageBps)
		if err != nil {
			return nil, fmt.Errorf("quote depth %d for pool %s: %w", level, poolAddress, err)
		}
		ladder = append(ladder, *quote)
	}
	return ladder, nil
}

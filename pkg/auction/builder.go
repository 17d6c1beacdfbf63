package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// PriceFeed resolves native-token prices for a set of tokens appearing in
// an auction's orders. It is an external collaborator (a price estimator
// backed by on-chain quotes or an off-chain oracle) that this package only
// depends on through this interface.
type PriceFeed interface {
	NativePrices(ctx context.Context, tokens []common.Address) domain.NativePrices
}

// JITOwnerAllowlist resolves which owners may inject just-in-time orders
// into a settlement and still have their surplus counted, even though
// such an order's UID was never part of the auction snapshot. It is an
// external collaborator (the orderbook database's allow-list) that this
// package only depends on through this interface.
type JITOwnerAllowlist interface {
	SurplusCapturingJITOwners(ctx context.Context) (map[common.Address]bool, error)
}

// Builder assembles the next auction snapshot from the order pool.
type Builder struct {
	Pool      *Pool
	Prices    PriceFeed
	JITOwners JITOwnerAllowlist
}

// NewBuilder builds a Builder over pool, resolving native prices through
// prices and the JIT-order owner allow-list through jitOwners. Either
// collaborator may be nil.
func NewBuilder(pool *Pool, prices PriceFeed, jitOwners JITOwnerAllowlist) *Builder {
	return &Builder{Pool: pool, Prices: prices, JITOwners: jitOwners}
}

// BuildAuction snapshots the pool's admitted, not-in-flight orders,
// allocates the next auction id, resolves native prices for every token
// traded, and fetches the JIT-order owner allow-list. Every snapshotted
// order is itself treated as surplus capturing: restricting that set is a
// property of the orderbook database this core does not implement (see
// spec §1 scope cut); the owner allow-list is the one piece of that
// restriction the spec requires the core to carry through to scoring.
func (b *Builder) BuildAuction(ctx context.Context) (domain.Auction, error) {
	orders := b.Pool.Snapshot()
	id := b.Pool.NextAuctionID()

	tokens := uniqueTokens(orders)
	var prices domain.NativePrices
	if b.Prices != nil {
		prices = b.Prices.NativePrices(ctx, tokens)
	}

	var jitOwners map[common.Address]bool
	if b.JITOwners != nil {
		var err error
		jitOwners, err = b.JITOwners.SurplusCapturingJITOwners(ctx)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("auction: resolve JIT owner allow-list: %w", err)
		}
	}

	surplus := make(map[domain.OrderUID]bool, len(orders))
	for _, o := range orders {
		surplus[o.UID] = true
	}

	return domain.Auction{
		ID:                        id,
		Orders:                    orders,
		Prices:                    prices,
		SurplusCapturingUIDs:      surplus,
		SurplusCapturingJITOwners: jitOwners,
	}, nil
}

func uniqueTokens(orders []domain.Order) []common.Address {
	seen := make(map[common.Address]bool)
	var tokens []common.Address
	for _, o := range orders {
		for _, t := range [2]common.Address{o.Sell, o.Buy} {
			if !seen[t] {
				seen[t] = true
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

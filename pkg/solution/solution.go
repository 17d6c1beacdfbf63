// Package solution builds a Solution either from on-chain data alone (a
// mined settle() transaction's calldata and the order signatures it
// carries, via Reconstruct) or from a solver's proposed trades joined
// against the auction's own orders (via FromProposed).
package solution

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/auctioncore/pkg/calldata"
	"github.com/cowprotocol/auctioncore/pkg/domain"
	"github.com/cowprotocol/auctioncore/pkg/orderdigest"
	"github.com/cowprotocol/auctioncore/pkg/trademath"
)

// Solution is a set of trades together with the auction id they belong to:
// for a mined settlement, the trades it settled and the auction id its
// calldata was tagged with.
type Solution struct {
	trades    []trademath.Trade
	auctionID uint64
}

// AuctionID is the id the winning solver tagged this settlement with.
func (s Solution) AuctionID() uint64 {
	return s.auctionID
}

// Trades returns the solution's reconstructed trades.
func (s Solution) Trades() []trademath.Trade {
	return s.trades
}

// tradeFlags decodes the packed flags field of a settle() trade tuple,
// using the settlement contract's documented bit layout: bit 0 selects the
// order kind, bit 1 partial fillability, bits 2-3 the sell token balance
// source, bit 4 the buy token balance destination, bits 5-7 the signing
// scheme.
type tradeFlags uint64

func (f tradeFlags) side() domain.Side {
	if f&1 == 1 {
		return domain.Buy
	}
	return domain.Sell
}

func (f tradeFlags) partiallyFillable() bool {
	return (f>>1)&1 == 1
}

func (f tradeFlags) sellTokenBalance() string {
	switch (f >> 2) & 0b11 {
	case 1:
		return "external"
	case 2:
		return "internal"
	default:
		return "erc20"
	}
}

func (f tradeFlags) buyTokenBalance() string {
	if (f>>4)&1 == 1 {
		return "internal"
	}
	return "erc20"
}

func (f tradeFlags) signingScheme() domain.SigningScheme {
	return domain.SigningScheme((f >> 5) & 0b111)
}

// Reconstruct builds a Solution from raw settle() calldata, recovering
// each trade's order UID from its embedded EIP-712 signature under the
// given domain.
//
// Each trade's uniform prices are read at the first index of its sell and
// buy tokens in the tokens list; its custom prices are read at the trade's
// own sell and buy token indices. The two are equal unless the settlement
// points the trade at a distinct index in the clearing price array.
func Reconstruct(raw []byte, eip712Domain orderdigest.Domain) (Solution, error) {
	decoded, err := calldata.Decode(raw)
	if err != nil {
		var decErr *calldata.DecodeError
		if errors.As(err, &decErr) {
			return Solution{}, fmt.Errorf("solution: decode settle calldata for auction %d: %w", decErr.AuctionID, err)
		}
		return Solution{}, fmt.Errorf("solution: decode settle calldata: %w", err)
	}

	trades := make([]trademath.Trade, len(decoded.Trades))
	for i, dt := range decoded.Trades {
		flags := tradeFlags(dt.Flags.Uint64())

		uniformSellIdx := firstIndexOf(decoded.Tokens, dt.SellToken)
		uniformBuyIdx := firstIndexOf(decoded.Tokens, dt.BuyToken)
		if uniformSellIdx < 0 || uniformBuyIdx < 0 {
			return Solution{}, fmt.Errorf("solution: trade %d in auction %d references a token missing from the tokens list", i, decoded.AuctionID)
		}

		uid, err := recoverOrderUID(dt, flags, eip712Domain)
		if err != nil {
			return Solution{}, fmt.Errorf("solution: recover order uid for trade %d in auction %d: %w", i, decoded.AuctionID, err)
		}

		executed := dt.Executed

		trades[i] = trademath.Trade{
			UID:      uid,
			Sell:     domain.Asset{Token: dt.SellToken, Amount: dt.SellAmount},
			Buy:      domain.Asset{Token: dt.BuyToken, Amount: dt.BuyAmount},
			Side:     flags.side(),
			Executed: executed,
			Prices: domain.Prices{
				Uniform: domain.ClearingPrices{
					Sell: decoded.ClearingPrices[uniformSellIdx],
					Buy:  decoded.ClearingPrices[uniformBuyIdx],
				},
				Custom: domain.ClearingPrices{
					Sell: decoded.ClearingPrices[dt.SellTokenIndex],
					Buy:  decoded.ClearingPrices[dt.BuyTokenIndex],
				},
			},
		}
	}

	return Solution{trades: trades, auctionID: decoded.AuctionID}, nil
}

func firstIndexOf(tokens []common.Address, token common.Address) int {
	for i, t := range tokens {
		if t == token {
			return i
		}
	}
	return -1
}

func recoverOrderUID(dt calldata.DecodedTrade, flags tradeFlags, eip712Domain orderdigest.Domain) (domain.OrderUID, error) {
	kind := "sell"
	if flags.side() == domain.Buy {
		kind = "buy"
	}
	typed := orderdigest.TypedOrder{
		SellToken:         dt.SellToken,
		BuyToken:          dt.BuyToken,
		Receiver:          dt.Receiver,
		SellAmount:        dt.SellAmount.ToBig(),
		BuyAmount:         dt.BuyAmount.ToBig(),
		ValidTo:           dt.ValidTo,
		AppData:           dt.AppData,
		FeeAmount:         dt.FeeAmount.ToBig(),
		Kind:              kind,
		PartiallyFillable: flags.partiallyFillable(),
		SellTokenBalance:  flags.sellTokenBalance(),
		BuyTokenBalance:   flags.buyTokenBalance(),
	}

	digest, err := orderdigest.HashOrder(eip712Domain, typed)
	if err != nil {
		return domain.OrderUID{}, err
	}
	owner, err := orderdigest.RecoverAddressForScheme(digest[:], dt.Signature, flags.signingScheme())
	if err != nil {
		return domain.OrderUID{}, err
	}
	return domain.NewOrderUID(common.Hash(digest), owner, dt.ValidTo), nil
}

// ProposedTrade is one trade a solver proposes settling: a reference to an
// order already admitted to the auction by UID, plus the uniform clearing
// prices the solver proposes for that trade's tokens. Unlike a trade
// reconstructed from mined calldata, a proposed trade carries no custom
// (fee-settled) price yet.
type ProposedTrade struct {
	OrderUID  domain.OrderUID
	Executed  *uint256.Int
	SellPrice *uint256.Int
	BuyPrice  *uint256.Int
}

// New builds a Solution directly from already-reconstructed trades, for
// callers (tests, or a dispatch-side evaluator that built its own trades)
// that don't go through Reconstruct or FromProposed.
func New(trades []trademath.Trade, auctionID uint64) Solution {
	return Solution{trades: trades, auctionID: auctionID}
}

// FromProposed reconstructs a Solution from a solver's proposed trades,
// joining each one against the auction's own orders by UID to recover the
// order's tokens, amounts and side, and deriving the fully fee-settled
// custom prices via trademath.Trade.WithSettledPrices before the result can
// be scored. This is how the run loop turns a solver's self-reported
// solution into something it can score itself rather than trust.
func FromProposed(auction domain.Auction, proposed []ProposedTrade, auctionID uint64, policies map[domain.OrderUID][]domain.FeePolicy) (Solution, error) {
	byUID := make(map[domain.OrderUID]domain.Order, len(auction.Orders))
	for _, o := range auction.Orders {
		byUID[o.UID] = o
	}

	trades := make([]trademath.Trade, 0, len(proposed))
	for _, p := range proposed {
		order, ok := byUID[p.OrderUID]
		if !ok {
			return Solution{}, fmt.Errorf("solution: proposed trade references order %s not in auction %d", p.OrderUID, auctionID)
		}

		trade := trademath.Trade{
			UID:      p.OrderUID,
			Sell:     domain.Asset{Token: order.Sell, Amount: order.SellAmount},
			Buy:      domain.Asset{Token: order.Buy, Amount: order.BuyAmount},
			Side:     order.Side,
			Executed: p.Executed,
			Prices: domain.Prices{
				Uniform: domain.ClearingPrices{Sell: p.SellPrice, Buy: p.BuyPrice},
			},
		}

		settled, err := trade.WithSettledPrices(policies[p.OrderUID])
		if err != nil {
			return Solution{}, fmt.Errorf("solution: settle prices for proposed trade %s: %w", p.OrderUID, err)
		}
		trades = append(trades, settled)
	}

	return Solution{trades: trades, auctionID: auctionID}, nil
}

// Score is the solution's CIP-38 score: the sum of every trade's score.
func (s Solution) Score(auction domain.Auction, policies map[domain.OrderUID][]domain.FeePolicy) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, trade := range s.trades {
		score, err := trade.Score(auction, policies[trade.UID])
		if err != nil {
			return nil, fmt.Errorf("solution: score trade %s: %w", trade.UID, err)
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, score)
		if overflow {
			return nil, fmt.Errorf("solution: score overflows uint256")
		}
	}
	return total, nil
}

// NativeSurplus is the solution's total surplus, in native-token units,
// summed across all trades. A trade whose surplus cannot be computed (a
// missing native price) makes the whole sum fail with that trade's error.
func (s Solution) NativeSurplus(auction domain.Auction) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, trade := range s.trades {
		surplus, err := trade.NativeSurplus(auction)
		if err != nil {
			return nil, fmt.Errorf("solution: native surplus for trade %s: %w", trade.UID, err)
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, surplus)
		if overflow {
			return nil, fmt.Errorf("solution: native surplus overflows uint256")
		}
	}
	return total, nil
}

// NativeFee is the solution's total fee, in native-token units, summed
// across all trades.
func (s Solution) NativeFee(prices domain.NativePrices) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, trade := range s.trades {
		fee, err := trade.NativeFee(prices)
		if err != nil {
			return nil, fmt.Errorf("solution: native fee for trade %s: %w", trade.UID, err)
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, fee)
		if overflow {
			return nil, fmt.Errorf("solution: native fee overflows uint256")
		}
	}
	return total, nil
}

// Fees returns, for each trade, its total fee denominated in its sell
// token. A trade whose fee cannot be computed is left out of the map.
func (s Solution) Fees() map[domain.OrderUID]*uint256.Int {
	out := make(map[domain.OrderUID]*uint256.Int, len(s.trades))
	for _, trade := range s.trades {
		fee, err := trade.TotalFeeInSellToken()
		if err != nil {
			continue
		}
		out[trade.UID] = fee
	}
	return out
}

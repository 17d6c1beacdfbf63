// Package trademath implements the surplus, fee and score computations for
// a single executed trade within a settled solution.
package trademath

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/auctioncore/pkg/domain"
	"github.com/cowprotocol/auctioncore/pkg/numeric"
)

// ErrMissingPrice is returned when a native price is required for a token
// the auction did not quote.
type ErrMissingPrice struct {
	Token common.Address
}

func (e *ErrMissingPrice) Error() string {
	return fmt.Sprintf("trademath: missing native price for token %s", e.Token)
}

// Trade is a single order execution within a solution, carrying both the
// uniform clearing prices the solver proposed and the custom prices that
// fold in the protocol fee.
type Trade struct {
	UID      domain.OrderUID
	Sell     domain.Asset
	Buy      domain.Asset
	Side     domain.Side
	Executed *uint256.Int // amount executed, denominated in the order's limit token (sell for sell orders, buy for buy orders)
	Prices   domain.Prices
}

// priceLimits is the pair of order limit amounts surplus is measured
// against; it is either the order's own limits or a quote adjusted to be
// comparable to them.
type priceLimits struct {
	Sell *uint256.Int
	Buy  *uint256.Int
}

// SurplusToken is the token surplus is denominated in: the buy token for
// sell orders, the sell token for buy orders.
func (t Trade) SurplusToken() common.Address {
	if t.Side == domain.Buy {
		return t.Sell.Token
	}
	return t.Buy.Token
}

// surplusOver computes the surplus of the trade's executed amount against
// the given clearing prices and price limits, scaled for partial fills.
func (t Trade) surplusOver(prices domain.ClearingPrices, limits priceLimits) (domain.Asset, error) {
	var surplus *uint256.Int
	var err error

	switch t.Side {
	case domain.Buy:
		limitSell, e := mulDiv(limits.Sell, t.Executed, limits.Buy)
		if e != nil {
			return domain.Asset{}, e
		}
		sold, e := mulDiv(t.Executed, prices.Buy, prices.Sell)
		if e != nil {
			return domain.Asset{}, e
		}
		surplus, err = numeric.CheckedSub(limitSell, sold)
	case domain.Sell:
		limitBuy, e := mulCeilDiv(t.Executed, limits.Buy, limits.Sell)
		if e != nil {
			return domain.Asset{}, e
		}
		bought, e := mulCeilDiv(t.Executed, prices.Sell, prices.Buy)
		if e != nil {
			return domain.Asset{}, e
		}
		surplus, err = numeric.CheckedSub(bought, limitBuy)
	default:
		return domain.Asset{}, errors.New("trademath: unknown side")
	}
	if err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset{Token: t.SurplusToken(), Amount: surplus}, nil
}

func mulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	p, err := numeric.CheckedMul(a, b)
	if err != nil {
		return nil, err
	}
	return numeric.CheckedDiv(p, c)
}

func mulCeilDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	p, err := numeric.CheckedMul(a, b)
	if err != nil {
		return nil, err
	}
	return numeric.CeilDiv(p, c)
}

// SurplusOverLimitPrice uses custom (fee-adjusted) prices to compute the
// surplus actually realized by the user after all fees.
func (t Trade) SurplusOverLimitPrice() (domain.Asset, error) {
	return t.surplusOver(t.Prices.Custom, priceLimits{Sell: t.Sell.Amount, Buy: t.Buy.Amount})
}

// SurplusOverLimitPriceBeforeFee uses the uniform prices to compute the
// surplus as if no protocol or network fee had been applied.
func (t Trade) SurplusOverLimitPriceBeforeFee() (domain.Asset, error) {
	return t.surplusOver(t.Prices.Uniform, priceLimits{Sell: t.Sell.Amount, Buy: t.Buy.Amount})
}

// SurplusOverQuote measures surplus against a reference quote instead of
// the order's own limits, used by the PriceImprovement fee policy.
func (t Trade) SurplusOverQuote(q domain.Quote) (domain.Asset, error) {
	limits, err := adjustQuoteToOrderLimits(t.Side, t.Sell.Amount, t.Buy.Amount, q)
	if err != nil {
		return domain.Asset{}, err
	}
	return t.surplusOver(t.Prices.Custom, limits)
}

// adjustQuoteToOrderLimits scales a quote's amounts so they are directly
// comparable to the order's own limit amounts, netting out the quote's own
// fee. See trademath's grounding source for the derivation.
func adjustQuoteToOrderLimits(side domain.Side, orderSell, orderBuy *uint256.Int, q domain.Quote) (priceLimits, error) {
	switch side {
	case domain.Sell:
		feeBuy, err := mulDiv(q.Fee, q.BuyAmount, q.SellAmount)
		if err != nil {
			return priceLimits{}, err
		}
		quoteBuy, err := numeric.CheckedSub(q.BuyAmount, feeBuy)
		if err != nil {
			return priceLimits{}, err
		}
		scaledBuy, err := mulDiv(quoteBuy, orderSell, q.SellAmount)
		if err != nil {
			return priceLimits{}, err
		}
		buy := orderBuy
		if scaledBuy.Gt(buy) {
			buy = scaledBuy
		}
		return priceLimits{Sell: orderSell, Buy: buy}, nil
	case domain.Buy:
		quoteSell, err := numeric.CheckedAdd(q.SellAmount, q.Fee)
		if err != nil {
			return priceLimits{}, err
		}
		scaledSell, err := mulDiv(quoteSell, orderBuy, q.BuyAmount)
		if err != nil {
			return priceLimits{}, err
		}
		sell := orderSell
		if scaledSell.Lt(sell) {
			sell = scaledSell
		}
		return priceLimits{Sell: sell, Buy: orderBuy}, nil
	default:
		return priceLimits{}, errors.New("trademath: unknown side")
	}
}

// Fee is the total fee (protocol fee + network fee) denominated in the
// surplus token: the difference between surplus computed before and after
// fees were applied.
func (t Trade) Fee() (domain.Asset, error) {
	before, err := t.SurplusOverLimitPriceBeforeFee()
	if err != nil {
		return domain.Asset{}, err
	}
	after, err := t.SurplusOverLimitPrice()
	if err != nil {
		return domain.Asset{}, err
	}
	amount, err := numeric.CheckedSub(before.Amount, after.Amount)
	if err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset{Token: t.SurplusToken(), Amount: amount}, nil
}

// feeIntoSellToken converts a surplus-token fee amount into sell-token
// units using the trade's uniform prices.
func (t Trade) feeIntoSellToken(fee *uint256.Int) (*uint256.Int, error) {
	if t.Side == domain.Buy {
		return fee, nil
	}
	return mulDiv(fee, t.Prices.Uniform.Buy, t.Prices.Uniform.Sell)
}

// TotalFeeInSellToken is Fee() converted into sell-token units.
func (t Trade) TotalFeeInSellToken() (*uint256.Int, error) {
	fee, err := t.Fee()
	if err != nil {
		return nil, err
	}
	return t.feeIntoSellToken(fee.Amount)
}

// sellAmount is the amount that actually left the trader's wallet,
// including all fees.
func (t Trade) sellAmount() (*uint256.Int, error) {
	if t.Side == domain.Sell {
		return t.Executed, nil
	}
	return mulDiv(t.Executed, t.Prices.Custom.Buy, t.Prices.Custom.Sell)
}

// buyAmount is the amount the trader actually received after all fees.
// The settlement contract rounds this up.
func (t Trade) buyAmount() (*uint256.Int, error) {
	if t.Side == domain.Sell {
		return mulCeilDiv(t.Executed, t.Prices.Custom.Sell, t.Prices.Custom.Buy)
	}
	return t.Executed, nil
}

// calculateCustomPrices derives new custom prices that exclude the given
// protocol fee amount from the trade, expressed over the actual traded
// amounts.
func (t Trade) calculateCustomPrices(protocolFee *uint256.Int) (domain.ClearingPrices, error) {
	buy, err := t.buyAmount()
	if err != nil {
		return domain.ClearingPrices{}, err
	}
	sell, err := t.sellAmount()
	if err != nil {
		return domain.ClearingPrices{}, err
	}

	var newSell, newBuy *uint256.Int
	if t.Side == domain.Sell {
		newSell, err = numeric.CheckedAdd(buy, protocolFee)
		if err != nil {
			return domain.ClearingPrices{}, err
		}
		newBuy = sell
	} else {
		newSell = buy
		newBuy, err = numeric.CheckedSub(sell, protocolFee)
		if err != nil {
			return domain.ClearingPrices{}, err
		}
	}
	return domain.ClearingPrices{Sell: newSell, Buy: newBuy}, nil
}

// surplusFee computes the protocol fee as a cut of surplus, denominated in
// the surplus token. See the derivation below on why the factor must be
// rescaled.
func (t Trade) surplusFee(surplus domain.Asset, factor float64) (domain.Asset, error) {
	// Surplus fee is specified as `factor` of surplus BEFORE the fee is
	// applied. This trade's surplus has the fee already applied, so the
	// fee must be recovered using the rescaled factor' = factor/(1-factor):
	//   fee = surplus_before_fee * factor
	//   surplus_after_fee = surplus_before_fee - fee
	//   factor' = fee / surplus_after_fee = factor / (1 - factor)
	rescaled := factor / (1.0 - factor)
	amount, err := numeric.ApplyRescaledFactor(surplus.Amount, rescaled)
	if err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset{Token: surplus.Token, Amount: amount}, nil
}

// volumeFee computes the protocol fee as a cut of the trade volume,
// denominated in the surplus token.
func (t Trade) volumeFee(factor float64) (domain.Asset, error) {
	var executedInSurplusToken *uint256.Int
	var err error
	if t.Side == domain.Buy {
		executedInSurplusToken, err = t.sellAmount()
	} else {
		executedInSurplusToken, err = t.buyAmount()
	}
	if err != nil {
		return domain.Asset{}, err
	}

	var rescaled float64
	if t.Side == domain.Sell {
		rescaled = factor / (1.0 - factor)
	} else {
		rescaled = factor / (1.0 + factor)
	}

	amount, err := numeric.ApplyRescaledFactor(executedInSurplusToken, rescaled)
	if err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset{Token: t.SurplusToken(), Amount: amount}, nil
}

// priceImprovement is the Surplus-over-quote amount, with a negative
// result clamped to zero rather than treated as an error: solutions
// routinely have no improvement over the reference quote.
func (t Trade) priceImprovement(q domain.Quote) (domain.Asset, error) {
	surplus, err := t.SurplusOverQuote(q)
	if err != nil {
		if errors.Is(err, numeric.ErrNegative) {
			return domain.Asset{Token: t.SurplusToken(), Amount: uint256.NewInt(0)}, nil
		}
		return domain.Asset{}, err
	}
	return surplus, nil
}

// ProtocolFee computes the protocol fee owed for a single fee policy,
// denominated in the surplus token.
func (t Trade) ProtocolFee(policy domain.FeePolicy) (domain.Asset, error) {
	switch policy.Kind {
	case domain.FeePolicySurplus:
		surplus, err := t.SurplusOverLimitPrice()
		if err != nil {
			return domain.Asset{}, err
		}
		surplusFee, err := t.surplusFee(surplus, policy.Factor)
		if err != nil {
			return domain.Asset{}, err
		}
		volFee, err := t.volumeFee(policy.MaxVolumeFactor)
		if err != nil {
			return domain.Asset{}, err
		}
		return domain.Asset{Token: t.SurplusToken(), Amount: minUint256(surplusFee.Amount, volFee.Amount)}, nil

	case domain.FeePolicyPriceImprovement:
		if policy.Quote == nil {
			return domain.Asset{}, errors.New("trademath: PriceImprovement policy missing quote")
		}
		improvement, err := t.priceImprovement(*policy.Quote)
		if err != nil {
			return domain.Asset{}, err
		}
		surplusFee, err := t.surplusFee(improvement, policy.Factor)
		if err != nil {
			return domain.Asset{}, err
		}
		volFee, err := t.volumeFee(policy.MaxVolumeFactor)
		if err != nil {
			return domain.Asset{}, err
		}
		return domain.Asset{Token: t.SurplusToken(), Amount: minUint256(surplusFee.Amount, volFee.Amount)}, nil

	case domain.FeePolicyVolume:
		return t.volumeFee(policy.Factor)

	default:
		return domain.Asset{}, fmt.Errorf("trademath: unknown fee policy kind %d", policy.Kind)
	}
}

func minUint256(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// ProtocolFees applies every fee policy attached to the order, via the
// reverse-peel algorithm: policies are walked from last to first,
// accumulating the total fee so far and recomputing the custom prices
// between iterations (since each policy after the first is evaluated
// against a trade whose prices already reflect the fees peeled off by
// later policies). The result is returned in original policy order.
func (t Trade) ProtocolFees(policies []domain.FeePolicy) ([]domain.Asset, error) {
	current := t
	total := uint256.NewInt(0)
	fees := make([]domain.Asset, len(policies))

	for i := len(policies) - 1; i >= 0; i-- {
		fee, err := current.ProtocolFee(policies[i])
		if err != nil {
			return nil, err
		}
		fees[i] = fee

		newTotal, err := numeric.CheckedAdd(total, fee.Amount)
		if err != nil {
			return nil, err
		}
		total = newTotal

		if i != 0 {
			newPrices, err := t.calculateCustomPrices(total)
			if err != nil {
				return nil, err
			}
			current.Prices.Custom = newPrices
		}
	}
	return fees, nil
}

// WithSettledPrices returns a copy of the trade with custom prices derived
// from its uniform (pre-fee) prices and the given fee policies, for a trade
// that has not settled on-chain yet and so carries no custom price of its
// own. Every other method on Trade (Score, NativeSurplus, ProtocolFees...)
// assumes Prices.Custom is already the fully fee-settled price, which is
// true for a trade reconstructed from mined calldata but not for one a
// solver merely proposes.
func (t Trade) WithSettledPrices(policies []domain.FeePolicy) (Trade, error) {
	settled := t
	settled.Prices.Custom = t.Prices.Uniform

	total := uint256.NewInt(0)
	for _, policy := range policies {
		fee, err := settled.ProtocolFee(policy)
		if err != nil {
			return Trade{}, err
		}
		total, err = numeric.CheckedAdd(total, fee.Amount)
		if err != nil {
			return Trade{}, err
		}
	}

	newPrices, err := settled.calculateCustomPrices(uint256.NewInt(0))
	if err != nil {
		return Trade{}, err
	}
	if settled.Side == domain.Sell {
		newPrices.Sell, err = numeric.CheckedSub(newPrices.Sell, total)
	} else {
		newPrices.Buy, err = numeric.CheckedAdd(newPrices.Buy, total)
	}
	if err != nil {
		return Trade{}, err
	}
	settled.Prices.Custom = newPrices
	return settled, nil
}

// ProtocolFeesInSellToken is ProtocolFees converted into sell-token units.
func (t Trade) ProtocolFeesInSellToken(policies []domain.FeePolicy) ([]*uint256.Int, error) {
	fees, err := t.ProtocolFees(policies)
	if err != nil {
		return nil, err
	}
	out := make([]*uint256.Int, len(fees))
	for i, f := range fees {
		converted, err := t.feeIntoSellToken(f.Amount)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

// NativeSurplus converts the trade's post-fee surplus into native-token
// units, or zero if the order does not capture surplus in this auction.
func (t Trade) NativeSurplus(auction domain.Auction) (*uint256.Int, error) {
	if !auction.IsSurplusCapturing(t.UID) {
		return uint256.NewInt(0), nil
	}
	surplus, err := t.SurplusOverLimitPrice()
	if err != nil {
		return nil, err
	}
	native, ok := auction.Prices.InEth(surplus.Token, surplus.Amount)
	if !ok {
		return nil, &ErrMissingPrice{Token: surplus.Token}
	}
	return native, nil
}

// NativeFee converts TotalFeeInSellToken into native-token units.
func (t Trade) NativeFee(prices domain.NativePrices) (*uint256.Int, error) {
	fee, err := t.TotalFeeInSellToken()
	if err != nil {
		return nil, err
	}
	native, ok := prices.InEth(t.Sell.Token, fee)
	if !ok {
		return nil, &ErrMissingPrice{Token: t.Sell.Token}
	}
	return native, nil
}

// NativeProtocolFee sums ProtocolFees converted into native-token units.
func (t Trade) NativeProtocolFee(auction domain.Auction, policies []domain.FeePolicy) (*uint256.Int, error) {
	fees, err := t.ProtocolFees(policies)
	if err != nil {
		return nil, err
	}
	total := uint256.NewInt(0)
	for _, fee := range fees {
		native, ok := auction.Prices.InEth(fee.Token, fee.Amount)
		if !ok {
			return nil, &ErrMissingPrice{Token: fee.Token}
		}
		total, err = numeric.CheckedAdd(total, native)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// Score is the CIP-38 score of the trade: native surplus + native
// protocol fee.
func (t Trade) Score(auction domain.Auction, policies []domain.FeePolicy) (*uint256.Int, error) {
	surplus, err := t.NativeSurplus(auction)
	if err != nil {
		return nil, err
	}
	fee, err := t.NativeProtocolFee(auction, policies)
	if err != nil {
		return nil, err
	}
	return numeric.CheckedAdd(surplus, fee)
}

// Package domain defines the core value types shared across the auction
// clearing pipeline: orders, auctions, clearing prices, trades and fee
// policies.
package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side is the direction of an order.
type Side uint8

const (
	Sell Side = iota
	Buy
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// SellTokenSource identifies where the sell token is drawn from.
type SellTokenSource uint8

const (
	SellTokenSourceErc20 SellTokenSource = iota
	SellTokenSourceInternal
	SellTokenSourceExternal
)

// BuyTokenDestination identifies where the bought token is credited.
type BuyTokenDestination uint8

const (
	BuyTokenDestinationErc20 BuyTokenDestination = iota
	BuyTokenDestinationInternal
)

// OrderUIDLen is the length in bytes of an order UID: a 32-byte order
// digest, a 20-byte owner address and a 4-byte big-endian valid_to.
const OrderUIDLen = 56

// OrderUID uniquely identifies an order.
type OrderUID [OrderUIDLen]byte

// NewOrderUID packs a digest, owner and valid_to into an OrderUID.
func NewOrderUID(digest common.Hash, owner common.Address, validTo uint32) OrderUID {
	var uid OrderUID
	copy(uid[0:32], digest[:])
	copy(uid[32:52], owner[:])
	binary.BigEndian.PutUint32(uid[52:56], validTo)
	return uid
}

// Digest returns the embedded order digest.
func (u OrderUID) Digest() common.Hash {
	var h common.Hash
	copy(h[:], u[0:32])
	return h
}

// Owner returns the embedded owner address.
func (u OrderUID) Owner() common.Address {
	var a common.Address
	copy(a[:], u[32:52])
	return a
}

// ValidTo returns the embedded expiry timestamp.
func (u OrderUID) ValidTo() uint32 {
	return binary.BigEndian.Uint32(u[52:56])
}

func (u OrderUID) String() string {
	return fmt.Sprintf("0x%x", u[:])
}

// ParseOrderUID decodes a hex-encoded order UID, as sent by a solver
// referencing one of the orders handed to it in the auction. The 0x
// prefix is optional.
func ParseOrderUID(s string) (OrderUID, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return OrderUID{}, fmt.Errorf("domain: parse order uid %q: %w", s, err)
	}
	if len(b) != OrderUIDLen {
		return OrderUID{}, fmt.Errorf("domain: order uid %q: want %d bytes, got %d", s, OrderUIDLen, len(b))
	}
	var uid OrderUID
	copy(uid[:], b)
	return uid, nil
}

// Asset is an amount of a given ERC-20 token.
type Asset struct {
	Token  common.Address
	Amount *uint256.Int
}

// Order is a signed request to trade, as admitted into an auction.
type Order struct {
	UID               OrderUID
	Sell              common.Address
	Buy               common.Address
	SellAmount        *uint256.Int
	BuyAmount         *uint256.Int
	FeeAmount         *uint256.Int
	Receiver          common.Address
	Owner             common.Address
	ValidTo           uint32
	AppData           common.Hash
	Side              Side
	PartiallyFillable bool
	SellTokenBalance  SellTokenSource
	BuyTokenBalance   BuyTokenDestination
	Signature         []byte
	SigningScheme     SigningScheme
	Class             OrderClass
	FeePolicies       []FeePolicy
}

// SigningScheme identifies how an order's owner authorized it, matching
// the settlement contract's packed trade flags bits 5-7. Only Eip712 and
// EthSign carry a signature this core can recover an address from:
// Eip1271 is a smart-contract signature verified on-chain, and PreSign
// authorizes the order through a separate on-chain call, so neither has
// anything to recover.
type SigningScheme uint8

const (
	SigningSchemeEip712 SigningScheme = iota
	SigningSchemeEthSign
	SigningSchemeEip1271
	SigningSchemePreSign
)

func (s SigningScheme) String() string {
	switch s {
	case SigningSchemeEip712:
		return "eip712"
	case SigningSchemeEthSign:
		return "ethsign"
	case SigningSchemeEip1271:
		return "eip1271"
	case SigningSchemePreSign:
		return "presign"
	default:
		return "unknown"
	}
}

// OrderClass distinguishes market orders, limit orders, and liquidity
// orders injected by solvers (JIT orders).
type OrderClass uint8

const (
	ClassMarket OrderClass = iota
	ClassLimit
	ClassLiquidity
)

// FeePolicyKind discriminates the FeePolicy variants.
type FeePolicyKind uint8

const (
	FeePolicySurplus FeePolicyKind = iota
	FeePolicyPriceImprovement
	FeePolicyVolume
)

// FeePolicy is one entry of an order's protocol-fee policy list. Exactly
// one of the factor/quote fields is meaningful, selected by Kind.
type FeePolicy struct {
	Kind            FeePolicyKind
	Factor          float64 // Surplus, PriceImprovement, Volume
	MaxVolumeFactor float64 // Surplus, PriceImprovement
	Quote           *Quote  // PriceImprovement only
}

// Quote is the reference quote a PriceImprovement fee policy is measured
// against.
type Quote struct {
	SellAmount *uint256.Int
	BuyAmount  *uint256.Int
	Fee        *uint256.Int
}

// ClearingPrices is a pair of prices (sell, buy) at which a trade settles.
type ClearingPrices struct {
	Sell *uint256.Int
	Buy  *uint256.Int
}

// Prices bundles the uniform clearing prices proposed by the solver with
// the custom, fee-adjusted prices actually used to compute the trade's
// net surplus.
type Prices struct {
	Uniform ClearingPrices
	Custom  ClearingPrices
}

// NativePrices maps a token address to its price denominated in the
// network's native token (e.g. ETH), used to convert surplus/fee amounts
// into a single comparable unit for ranking.
type NativePrices map[common.Address]*uint256.Int

// InEth converts an amount of TOKEN into native-token units given this
// token's native price (expressed as native-wei per 10^18 units of token).
func (p NativePrices) InEth(token common.Address, amount *uint256.Int) (*uint256.Int, bool) {
	price, ok := p[token]
	if !ok {
		return nil, false
	}
	num := new(uint256.Int).Mul(amount, price)
	return num.Div(num, uint256.NewInt(1_000_000_000_000_000_000)), true
}

// Auction is the snapshot of solvable orders and native prices a batch of
// solvers compete against.
type Auction struct {
	ID     int64
	Orders []Order
	Prices NativePrices

	// SurplusCapturingUIDs is the set of orders known to the auction
	// snapshot at assembly time.
	SurplusCapturingUIDs map[OrderUID]bool

	// SurplusCapturingJITOwners allow-lists owners whose JIT orders (added
	// by a solver during settlement, and so never part of the auction
	// snapshot) still capture surplus. This set is independent of
	// SurplusCapturingUIDs: a JIT order's UID is never in it.
	SurplusCapturingJITOwners map[common.Address]bool
}

// IsSurplusCapturing reports whether the order is eligible to have its
// surplus counted toward the ranking score: either its UID was part of
// the auction snapshot, or its owner is allow-listed for JIT orders.
func (a Auction) IsSurplusCapturing(uid OrderUID) bool {
	return a.SurplusCapturingUIDs[uid] || a.SurplusCapturingJITOwners[uid.Owner()]
}

// Interaction is a single on-chain call the settlement executes alongside
// token transfers (e.g. an AMM swap supplying liquidity for a trade).
type Interaction struct {
	Target   common.Address
	Value    *uint256.Int
	CallData []byte
}

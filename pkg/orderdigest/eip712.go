// Package orderdigest computes the EIP-712 digest and order UID for a GPv2
// order, and recovers the owner address from an order's signature.
package orderdigest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// Domain is the EIP-712 domain separator input for the settlement
// contract. It binds order signatures to a single chain and contract,
// preventing cross-chain and cross-deployment replay.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// TypedOrder is the EIP-712 typed-data message for a GPv2 order, carrying
// the exact fields the settlement contract hashes over.
type TypedOrder struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           common.Hash
	FeeAmount         *big.Int
	Kind              string // "sell" or "buy"
	PartiallyFillable bool
	SellTokenBalance  string // "erc20", "internal", "external"
	BuyTokenBalance   string // "erc20", "internal"
}

// Digest is the 32-byte EIP-712 signing digest (keccak256 of 0x1901, the
// domain separator and the order's struct hash) that the owner signs over.
type Digest [32]byte

// orderTypes is the EIP-712 type layout for GPv2Order.Data, matching the
// settlement contract's ORDER_TYPE_HASH field order.
var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

func typedData(dom Domain, order TypedOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              dom.Name,
			Version:           dom.Version,
			ChainId:           (*math.HexOrDecimal256)(dom.ChainID),
			VerifyingContract: dom.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":         order.SellToken.Hex(),
			"buyToken":          order.BuyToken.Hex(),
			"receiver":          order.Receiver.Hex(),
			"sellAmount":        order.SellAmount.String(),
			"buyAmount":         order.BuyAmount.String(),
			"validTo":           fmt.Sprintf("%d", order.ValidTo),
			"appData":           order.AppData.Hex(),
			"feeAmount":         order.FeeAmount.String(),
			"kind":              order.Kind,
			"partiallyFillable": order.PartiallyFillable,
			"sellTokenBalance":  order.SellTokenBalance,
			"buyTokenBalance":   order.BuyTokenBalance,
		},
	}
}

// HashOrder computes the EIP-712 digest of the order under the given
// domain: keccak256("\x19\x01" || domainSeparator || structHash).
func HashOrder(dom Domain, order TypedOrder) (Digest, error) {
	td := typedData(dom, order)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return Digest{}, fmt.Errorf("orderdigest: hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return Digest{}, fmt.Errorf("orderdigest: hash order: %w", err)
	}

	raw := append([]byte("\x19\x01"), domainSeparator...)
	raw = append(raw, structHash...)
	return Digest(crypto.Keccak256Hash(raw)), nil
}

// OrderUID builds the order UID (digest || owner || valid_to) for an
// order, recovering no signature — the owner must already be known.
func OrderUID(dom Domain, order TypedOrder, owner common.Address) (domain.OrderUID, error) {
	digest, err := HashOrder(dom, order)
	if err != nil {
		return domain.OrderUID{}, err
	}
	return domain.NewOrderUID(common.Hash(digest), owner, order.ValidTo), nil
}

// RecoverOwner recovers the address that produced the given 65-byte
// ECDSA signature over the order's EIP-712 digest.
func RecoverOwner(dom Domain, order TypedOrder, signature []byte) (common.Address, error) {
	digest, err := HashOrder(dom, order)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest[:], signature)
}

// VerifyOwner reports whether signature was produced by claimedOwner over
// the order's EIP-712 digest.
func VerifyOwner(dom Domain, order TypedOrder, claimedOwner common.Address, signature []byte) (bool, error) {
	owner, err := RecoverOwner(dom, order, signature)
	if err != nil {
		return false, err
	}
	return owner == claimedOwner, nil
}

// Package calldata encodes and decodes the settlement contract's settle()
// calldata: the token list, clearing price vector, per-order trade tuples,
// interaction lists, and the trailing auction-id suffix solvers append so
// autopilot can associate a mined settlement with the auction it won.
package calldata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Selector is the 4-byte function selector of GPv2Settlement.settle().
var Selector = crypto.Keccak256([]byte(
	"settle(address[],uint256[],(uint256,uint256,address,uint256,uint256,uint32,bytes32,uint256,uint256,uint256,bytes)[],(address,uint256,bytes)[][3])",
))[:4]

var ErrInvalidSelector = errors.New("calldata: function selector does not match settle()")
var ErrMissingAuctionID = errors.New("calldata: missing trailing auction id suffix")
var ErrTradeTokenIndex = errors.New("calldata: trade token index out of bounds")

// DecodeError wraps a decode failure that happened after the trailing
// auction-id suffix was already parsed, so callers (the settlement
// observer in particular) can still attribute an otherwise-opaque decode
// failure to the auction it belongs to.
type DecodeError struct {
	AuctionID uint64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("calldata: decode settle args for auction %d: %v", e.AuctionID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const auctionIDSuffixLen = 8

var settleArgs = mustSettleArgs()

func mustSettleArgs() abi.Arguments {
	const tradeTupleABI = `(uint256,uint256,address,uint256,uint256,uint32,bytes32,uint256,uint256,uint256,bytes)`
	const interactionTupleABI = `(address,uint256,bytes)`

	addressSlice, _ := abi.NewType("address[]", "", nil)
	uintSlice, _ := abi.NewType("uint256[]", "", nil)
	trades, err := abi.NewType(tradeTupleABI+"[]", "", []abi.ArgumentMarshaling{
		{Name: "sellTokenIndex", Type: "uint256"},
		{Name: "buyTokenIndex", Type: "uint256"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "flags", Type: "uint256"},
		{Name: "executedAmount", Type: "uint256"},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("calldata: build trade tuple type: %v", err))
	}
	interactions, err := abi.NewType(interactionTupleABI+"[][3]", "", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("calldata: build interaction tuple type: %v", err))
	}

	return abi.Arguments{
		{Name: "tokens", Type: addressSlice},
		{Name: "clearingPrices", Type: uintSlice},
		{Name: "trades", Type: trades},
		{Name: "interactions", Type: interactions},
	}
}

// Decoded is the result of decoding a settle() call: the extracted trade
// list, token list, clearing prices, interactions, and the auction id the
// solver appended.
type Decoded struct {
	Tokens         []common.Address
	ClearingPrices []*uint256.Int
	Trades         []DecodedTrade
	Interactions   [3][]DecodedInteraction
	AuctionID      uint64
}

// DecodedTrade mirrors a single trade tuple, with token indices already
// resolved against the tokens list.
type DecodedTrade struct {
	SellToken      common.Address
	BuyToken       common.Address
	SellTokenIndex int
	BuyTokenIndex  int
	Receiver       common.Address
	SellAmount     *uint256.Int
	BuyAmount      *uint256.Int
	ValidTo        uint32
	AppData        common.Hash
	FeeAmount      *uint256.Int
	Flags          *uint256.Int
	Executed       *uint256.Int
	Signature      []byte
}

// DecodedInteraction mirrors a single GPv2Interaction.Data entry.
type DecodedInteraction struct {
	Target   common.Address
	Value    *uint256.Int
	CallData []byte
}

// TradeFlags decodes the packed flags field: bit 0 selects order kind
// (0 = sell, 1 = buy); higher bits encode balance sources/destinations and
// signature scheme, which this type does not decode (pkg/solution reads
// them with its own flag decoder).
type TradeFlags uint64

// IsBuyOrder reports whether the trade's flags select the buy side.
func (f TradeFlags) IsBuyOrder() bool {
	return f&1 == 1
}

// Decode parses raw settle() calldata (selector + ABI-encoded arguments +
// an 8-byte big-endian auction id suffix) into a Decoded value.
func Decode(raw []byte) (Decoded, error) {
	if len(raw) < 4 {
		return Decoded{}, ErrInvalidSelector
	}
	if string(raw[:4]) != string(Selector) {
		return Decoded{}, ErrInvalidSelector
	}
	if len(raw) < 4+auctionIDSuffixLen {
		return Decoded{}, ErrMissingAuctionID
	}

	body := raw[4 : len(raw)-auctionIDSuffixLen]
	suffix := raw[len(raw)-auctionIDSuffixLen:]
	auctionID := binary.BigEndian.Uint64(suffix)

	values, err := settleArgs.Unpack(body)
	if err != nil {
		return Decoded{}, &DecodeError{AuctionID: auctionID, Err: fmt.Errorf("unpack settle args: %w", err)}
	}
	if len(values) != 4 {
		return Decoded{}, &DecodeError{AuctionID: auctionID, Err: fmt.Errorf("expected 4 top-level args, got %d", len(values))}
	}

	tokens, ok := values[0].([]common.Address)
	if !ok {
		return Decoded{}, &DecodeError{AuctionID: auctionID, Err: errors.New("tokens argument has unexpected type")}
	}

	pricesBig, ok := values[1].([]*big.Int)
	if !ok {
		return Decoded{}, &DecodeError{AuctionID: auctionID, Err: errors.New("clearingPrices argument has unexpected type")}
	}
	prices := make([]*uint256.Int, len(pricesBig))
	for i, p := range pricesBig {
		v, overflow := uint256.FromBig(p)
		if overflow {
			return Decoded{}, &DecodeError{AuctionID: auctionID, Err: fmt.Errorf("clearing price %d overflows uint256", i)}
		}
		prices[i] = v
	}

	trades, err := decodeTrades(values[2], tokens)
	if err != nil {
		return Decoded{}, &DecodeError{AuctionID: auctionID, Err: err}
	}

	interactions, err := decodeInteractions(values[3])
	if err != nil {
		return Decoded{}, &DecodeError{AuctionID: auctionID, Err: err}
	}

	return Decoded{
		Tokens:         tokens,
		ClearingPrices: prices,
		Trades:         trades,
		Interactions:   interactions,
		AuctionID:      auctionID,
	}, nil
}

// decodeTrades reads the dynamically generated tuple-slice value go-ethereum's
// abi package produces for the trades argument. go-ethereum builds an
// anonymous struct type via reflection for ABI tuples, so field access goes
// through reflect rather than a type assertion to a named struct.
func decodeTrades(v interface{}, tokens []common.Address) ([]DecodedTrade, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, errors.New("calldata: trades argument is not a slice")
	}

	out := make([]DecodedTrade, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		sellIdx := int(fieldBigInt(elem, "SellTokenIndex").Int64())
		buyIdx := int(fieldBigInt(elem, "BuyTokenIndex").Int64())
		if sellIdx < 0 || buyIdx < 0 || sellIdx >= len(tokens) || buyIdx >= len(tokens) {
			return nil, ErrTradeTokenIndex
		}

		sellAmt, overflow := uint256.FromBig(fieldBigInt(elem, "SellAmount"))
		if overflow {
			return nil, fmt.Errorf("calldata: trade %d sell amount overflows uint256", i)
		}
		buyAmt, overflow := uint256.FromBig(fieldBigInt(elem, "BuyAmount"))
		if overflow {
			return nil, fmt.Errorf("calldata: trade %d buy amount overflows uint256", i)
		}
		feeAmt, overflow := uint256.FromBig(fieldBigInt(elem, "FeeAmount"))
		if overflow {
			return nil, fmt.Errorf("calldata: trade %d fee amount overflows uint256", i)
		}
		flags, overflow := uint256.FromBig(fieldBigInt(elem, "Flags"))
		if overflow {
			return nil, fmt.Errorf("calldata: trade %d flags overflow uint256", i)
		}
		executed, overflow := uint256.FromBig(fieldBigInt(elem, "ExecutedAmount"))
		if overflow {
			return nil, fmt.Errorf("calldata: trade %d executed amount overflows uint256", i)
		}

		appData := elem.FieldByName("AppData").Interface().([32]byte)
		sig := elem.FieldByName("Signature").Interface().([]byte)

		out[i] = DecodedTrade{
			SellToken:      tokens[sellIdx],
			BuyToken:       tokens[buyIdx],
			SellTokenIndex: sellIdx,
			BuyTokenIndex:  buyIdx,
			Receiver:       elem.FieldByName("Receiver").Interface().(common.Address),
			SellAmount:     sellAmt,
			BuyAmount:      buyAmt,
			ValidTo:        elem.FieldByName("ValidTo").Interface().(uint32),
			AppData:        common.Hash(appData),
			FeeAmount:      feeAmt,
			Flags:          flags,
			Executed:       executed,
			Signature:      sig,
		}
	}
	return out, nil
}

// decodeInteractions reads the fixed [3][]struct{...} value for the
// interactions argument, one slice per settlement execution phase
// (pre, intra, post).
func decodeInteractions(v interface{}) ([3][]DecodedInteraction, error) {
	var out [3][]DecodedInteraction

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array || rv.Len() != 3 {
		return out, errors.New("calldata: interactions argument is not a [3] array")
	}

	for phase := 0; phase < 3; phase++ {
		phaseSlice := rv.Index(phase)
		if phaseSlice.Kind() != reflect.Slice {
			return out, fmt.Errorf("calldata: interactions phase %d is not a slice", phase)
		}
		list := make([]DecodedInteraction, phaseSlice.Len())
		for i := 0; i < phaseSlice.Len(); i++ {
			elem := phaseSlice.Index(i)
			value, overflow := uint256.FromBig(fieldBigInt(elem, "Value"))
			if overflow {
				return out, fmt.Errorf("calldata: interaction phase %d entry %d value overflows uint256", phase, i)
			}
			list[i] = DecodedInteraction{
				Target:   elem.FieldByName("Target").Interface().(common.Address),
				Value:    value,
				CallData: elem.FieldByName("CallData").Interface().([]byte),
			}
		}
		out[phase] = list
	}
	return out, nil
}

func fieldBigInt(v reflect.Value, name string) *big.Int {
	f := v.FieldByName(name)
	return f.Interface().(*big.Int)
}

// encodeTradeABI is the Go-side mirror of the trade tuple used for
// packing; go-ethereum's abi.Pack matches tuple fields by name, so this
// need not be the same type Unpack produces.
type encodeTradeABI struct {
	SellTokenIndex *big.Int
	BuyTokenIndex  *big.Int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        [32]byte
	FeeAmount      *big.Int
	Flags          *big.Int
	ExecutedAmount *big.Int
	Signature      []byte
}

type encodeInteractionABI struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Encode builds raw settle() calldata from a token list, clearing price
// vector, trades and interactions, appending the auction id suffix.
// Trades must carry their resolved SellTokenIndex/BuyTokenIndex into
// tokens.
func Encode(tokens []common.Address, prices []*uint256.Int, trades []DecodedTrade, interactions [3][]DecodedInteraction, auctionID uint64) ([]byte, error) {
	priceBig := make([]*big.Int, len(prices))
	for i, p := range prices {
		priceBig[i] = p.ToBig()
	}

	tradeABI := make([]encodeTradeABI, len(trades))
	for i, t := range trades {
		if t.SellTokenIndex >= len(tokens) || t.BuyTokenIndex >= len(tokens) {
			return nil, ErrTradeTokenIndex
		}
		tradeABI[i] = encodeTradeABI{
			SellTokenIndex: big.NewInt(int64(t.SellTokenIndex)),
			BuyTokenIndex:  big.NewInt(int64(t.BuyTokenIndex)),
			Receiver:       t.Receiver,
			SellAmount:     t.SellAmount.ToBig(),
			BuyAmount:      t.BuyAmount.ToBig(),
			ValidTo:        t.ValidTo,
			AppData:        t.AppData,
			FeeAmount:      t.FeeAmount.ToBig(),
			Flags:          t.Flags.ToBig(),
			ExecutedAmount: t.Executed.ToBig(),
			Signature:      t.Signature,
		}
	}

	var interactionsABI [3][]encodeInteractionABI
	for phase, list := range interactions {
		phaseABI := make([]encodeInteractionABI, len(list))
		for i, in := range list {
			phaseABI[i] = encodeInteractionABI{
				Target:   in.Target,
				Value:    in.Value.ToBig(),
				CallData: in.CallData,
			}
		}
		interactionsABI[phase] = phaseABI
	}

	body, err := settleArgs.Pack(tokens, priceBig, tradeABI, interactionsABI)
	if err != nil {
		return nil, fmt.Errorf("calldata: pack settle args: %w", err)
	}

	out := make([]byte, 0, 4+len(body)+auctionIDSuffixLen)
	out = append(out, Selector...)
	out = append(out, body...)
	out = append(out, EncodeAuctionIDSuffix(auctionID)...)
	return out, nil
}

// EncodeAuctionIDSuffix returns the 8-byte big-endian auction id suffix
// solvers append after the ABI-encoded settle() arguments.
func EncodeAuctionIDSuffix(auctionID uint64) []byte {
	var suffix [auctionIDSuffixLen]byte
	binary.BigEndian.PutUint64(suffix[:], auctionID)
	return suffix[:]
}

// IsSettleCalldata reports whether raw begins with the settle() selector,
// without fully decoding the arguments.
func IsSettleCalldata(raw []byte) bool {
	return len(raw) >= 4 && string(raw[:4]) == string(Selector)
}

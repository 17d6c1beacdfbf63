package calldata

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func sampleDecoded() (tokens []common.Address, prices []*uint256.Int, trades []DecodedTrade, interactions [3][]DecodedInteraction) {
	tokens = []common.Address{
		common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	}
	prices = []*uint256.Int{
		uint256.NewInt(2_000_000_000),
		uint256.NewInt(1_000_000_000_000_000_000),
	}
	trades = []DecodedTrade{
		{
			SellToken:      tokens[0],
			BuyToken:       tokens[1],
			SellTokenIndex: 0,
			BuyTokenIndex:  1,
			Receiver:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
			SellAmount:     uint256.NewInt(1_000_000_000_000_000_000),
			BuyAmount:      uint256.NewInt(1_900_000_000),
			ValidTo:        4294967295,
			AppData:        common.Hash{},
			FeeAmount:      uint256.NewInt(1_000_000_000_000_000),
			Flags:          uint256.NewInt(0),
			Executed:       uint256.NewInt(1_000_000_000_000_000_000),
			Signature:      bytes.Repeat([]byte{0xab}, 65),
		},
	}
	interactions = [3][]DecodedInteraction{
		{},
		{{Target: tokens[1], Value: uint256.NewInt(0), CallData: []byte{0x01, 0x02}}},
		{},
	}
	return
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tokens, prices, trades, interactions := sampleDecoded()

	raw, err := Encode(tokens, prices, trades, interactions, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !IsSettleCalldata(raw) {
		t.Fatal("encoded calldata does not carry the settle() selector")
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.AuctionID != 42 {
		t.Errorf("auction id: got %d want 42", decoded.AuctionID)
	}
	if len(decoded.Tokens) != 2 || decoded.Tokens[0] != tokens[0] || decoded.Tokens[1] != tokens[1] {
		t.Errorf("tokens mismatch: got %v", decoded.Tokens)
	}
	if len(decoded.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(decoded.Trades))
	}
	got := decoded.Trades[0]
	if got.SellToken != tokens[0] || got.BuyToken != tokens[1] {
		t.Errorf("trade token resolution mismatch: got sell=%s buy=%s", got.SellToken, got.BuyToken)
	}
	if got.SellAmount.Cmp(trades[0].SellAmount) != 0 {
		t.Errorf("sell amount mismatch: got %s want %s", got.SellAmount, trades[0].SellAmount)
	}
	if got.Receiver != trades[0].Receiver {
		t.Errorf("receiver mismatch: got %s want %s", got.Receiver, trades[0].Receiver)
	}
	if !bytes.Equal(got.Signature, trades[0].Signature) {
		t.Error("signature round-trip mismatch")
	}
	if len(decoded.Interactions[1]) != 1 || decoded.Interactions[1][0].Target != tokens[1] {
		t.Errorf("interaction phase 1 mismatch: got %v", decoded.Interactions[1])
	}
}

func TestDecodeRejectsWrongSelector(t *testing.T) {
	raw := append([]byte{0xde, 0xad, 0xbe, 0xef}, make([]byte, 16)...)
	_, err := Decode(raw)
	if err != ErrInvalidSelector {
		t.Fatalf("expected ErrInvalidSelector, got %v", err)
	}
}

func TestDecodeRejectsMissingAuctionID(t *testing.T) {
	raw := append([]byte{}, Selector...)
	_, err := Decode(raw)
	if err != ErrMissingAuctionID {
		t.Fatalf("expected ErrMissingAuctionID, got %v", err)
	}
}

func TestDecodeWrapsCorruptBodyWithAuctionID(t *testing.T) {
	tokens, prices, trades, interactions := sampleDecoded()

	raw, err := Encode(tokens, prices, trades, interactions, 77)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt a byte inside the ABI-encoded body (well past the selector,
	// well before the untouched trailing auction-id suffix) so Unpack
	// fails but the suffix is still parsed correctly first.
	raw[40] ^= 0xff

	_, err = Decode(raw)
	if err == nil {
		t.Fatal("expected corrupted body to fail decoding")
	}
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected a *DecodeError, got %T: %v", err, err)
	}
	if decErr.AuctionID != 77 {
		t.Errorf("auction id: got %d want 77", decErr.AuctionID)
	}
}

func TestEncodeRejectsOutOfBoundsTokenIndex(t *testing.T) {
	tokens, prices, trades, interactions := sampleDecoded()
	trades[0].BuyTokenIndex = 5

	_, err := Encode(tokens, prices, trades, interactions, 1)
	if err != ErrTradeTokenIndex {
		t.Fatalf("expected ErrTradeTokenIndex, got %v", err)
	}
}

package solution

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/cowprotocol/auctioncore/pkg/calldata"
	"github.com/cowprotocol/auctioncore/pkg/domain"
	"github.com/cowprotocol/auctioncore/pkg/orderdigest"
)

func testDomain() orderdigest.Domain {
	return orderdigest.Domain{
		Name:              "Gnosis Protocol",
		Version:           "v2",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
	}
}

// buildSettleCalldata signs a single sell order with a fresh key and
// assembles settle() calldata for it, returning the raw bytes and the
// signer's address for the caller to assert against.
func buildSettleCalldata(t *testing.T, auctionID uint64) ([]byte, common.Address) {
	t.Helper()
	return buildSettleCalldataWithFlags(t, auctionID, uint256.NewInt(0))
}

// buildSettleCalldataWithFlags is buildSettleCalldata generalized to a
// caller-chosen packed flags value, so tests can exercise non-default
// signing schemes.
func buildSettleCalldataWithFlags(t *testing.T, auctionID uint64, flags *uint256.Int) ([]byte, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	typed := orderdigest.TypedOrder{
		SellToken:         weth,
		BuyToken:          usdc,
		Receiver:          owner,
		SellAmount:        big.NewInt(1_000_000_000_000_000_000),
		BuyAmount:         big.NewInt(1_900_000_000),
		ValidTo:           4294967295,
		AppData:           common.Hash{},
		FeeAmount:         big.NewInt(0),
		Kind:              "sell",
		PartiallyFillable: false,
		SellTokenBalance:  "erc20",
		BuyTokenBalance:   "erc20",
	}

	dom := testDomain()
	digest, err := orderdigest.HashOrder(dom, typed)
	if err != nil {
		t.Fatal(err)
	}

	scheme := domain.SigningScheme((flags.Uint64() >> 5) & 0b111)
	toSign := digest[:]
	if scheme == domain.SigningSchemeEthSign {
		prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(digest))
		toSign = crypto.Keccak256(append([]byte(prefix), digest[:]...))
	}
	sig, err := crypto.Sign(toSign, key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27

	tokens := []common.Address{weth, usdc}
	prices := []*uint256.Int{
		uint256.NewInt(2_000_000_000),            // price for weth (index 0)
		uint256.NewInt(1_000_000_000_000_000_000), // price for usdc (index 1)
	}
	trades := []calldata.DecodedTrade{
		{
			SellToken:      weth,
			BuyToken:       usdc,
			SellTokenIndex: 0,
			BuyTokenIndex:  1,
			Receiver:       owner,
			SellAmount:     uint256.NewInt(1_000_000_000_000_000_000),
			BuyAmount:      uint256.NewInt(1_900_000_000),
			ValidTo:        typed.ValidTo,
			AppData:        common.Hash{},
			FeeAmount:      uint256.NewInt(0),
			Flags:          flags,
			Executed:       uint256.NewInt(1_000_000_000_000_000_000),
			Signature:      sig,
		},
	}
	var interactions [3][]calldata.DecodedInteraction

	raw, err := calldata.Encode(tokens, prices, trades, interactions, auctionID)
	if err != nil {
		t.Fatal(err)
	}
	return raw, owner
}

func TestReconstructRecoversOrderUID(t *testing.T) {
	raw, owner := buildSettleCalldata(t, 7)

	sol, err := Reconstruct(raw, testDomain())
	if err != nil {
		t.Fatal(err)
	}
	if sol.AuctionID() != 7 {
		t.Errorf("auction id: got %d want 7", sol.AuctionID())
	}
	if len(sol.Trades()) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(sol.Trades()))
	}
	if got := sol.Trades()[0].UID.Owner(); got != owner {
		t.Errorf("recovered owner: got %s want %s", got, owner)
	}
}

func TestScoreAndNativeSurplus(t *testing.T) {
	raw, _ := buildSettleCalldata(t, 1)
	sol, err := Reconstruct(raw, testDomain())
	if err != nil {
		t.Fatal(err)
	}

	uid := sol.Trades()[0].UID
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	auction := domain.Auction{
		ID:                   1,
		Prices:               domain.NativePrices{usdc: uint256.NewInt(500_000_000_000_000)},
		SurplusCapturingUIDs: map[domain.OrderUID]bool{uid: true},
	}

	surplus, err := sol.NativeSurplus(auction)
	if err != nil {
		t.Fatal(err)
	}
	if surplus.IsZero() {
		t.Error("expected non-zero native surplus")
	}

	score, err := sol.Score(auction, map[domain.OrderUID][]domain.FeePolicy{})
	if err != nil {
		t.Fatal(err)
	}
	if score.Cmp(surplus) != 0 {
		t.Errorf("score with no fee policies should equal surplus: got %s want %s", score, surplus)
	}
}

func TestReconstructRejectsBadSelector(t *testing.T) {
	if _, err := Reconstruct([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, testDomain()); err == nil {
		t.Fatal("expected error for non-settle calldata")
	}
}

func TestReconstructRecoversEthSignOwner(t *testing.T) {
	ethSignFlags := uint256.NewInt(1 << 5) // scheme bits = 1 (EthSign)
	raw, owner := buildSettleCalldataWithFlags(t, 11, ethSignFlags)

	sol, err := Reconstruct(raw, testDomain())
	if err != nil {
		t.Fatal(err)
	}
	if got := sol.Trades()[0].UID.Owner(); got != owner {
		t.Errorf("recovered owner: got %s want %s", got, owner)
	}
}

func TestFromProposedScoresAgainstAuctionOrders(t *testing.T) {
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	var uid domain.OrderUID
	uid[0] = 0x07
	order := domain.Order{
		UID:        uid,
		Sell:       weth,
		Buy:        usdc,
		SellAmount: uint256.NewInt(1_000_000_000_000_000_000),
		BuyAmount:  uint256.NewInt(1_900_000_000),
		Side:       domain.Sell,
	}

	auction := domain.Auction{
		ID:                   3,
		Orders:               []domain.Order{order},
		SurplusCapturingUIDs: map[domain.OrderUID]bool{uid: true},
		Prices:               domain.NativePrices{usdc: uint256.NewInt(500_000_000_000_000)},
	}

	proposed := []ProposedTrade{{
		OrderUID:  uid,
		Executed:  uint256.NewInt(1_000_000_000_000_000_000),
		SellPrice: uint256.NewInt(2_000_000_000),
		BuyPrice:  uint256.NewInt(1_000_000_000_000_000_000),
	}}

	sol, err := FromProposed(auction, proposed, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sol.AuctionID() != 3 {
		t.Errorf("auction id: got %d want 3", sol.AuctionID())
	}

	score, err := sol.Score(auction, nil)
	if err != nil {
		t.Fatal(err)
	}
	if score.IsZero() {
		t.Error("expected non-zero score for a proposed trade with surplus over its limit price")
	}
}

func TestFromProposedRejectsUnknownOrder(t *testing.T) {
	auction := domain.Auction{ID: 4}
	var uid domain.OrderUID
	uid[0] = 0x09

	_, err := FromProposed(auction, []ProposedTrade{{OrderUID: uid}}, 4, nil)
	if err == nil {
		t.Fatal("expected an error for a proposed trade referencing an order not in the auction")
	}
}

func TestReconstructRejectsEip1271AndPreSign(t *testing.T) {
	for name, schemeBits := range map[string]uint64{"eip1271": 2, "presign": 3} {
		flags := uint256.NewInt(schemeBits << 5)
		raw, _ := buildSettleCalldataWithFlags(t, 12, flags)

		_, err := Reconstruct(raw, testDomain())
		if !errors.Is(err, orderdigest.ErrNotECDSARecoverable) {
			t.Errorf("%s: expected ErrNotECDSARecoverable, got %v", name, err)
		}
	}
}

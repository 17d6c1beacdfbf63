// Package settlementobserver watches the chain for mined settle()
// transactions, reconstructs the Solution each one executed, and reports
// the observation so the run loop can reconcile its in-flight orders and
// the competition record can be closed out.
package settlementobserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cowprotocol/auctioncore/pkg/calldata"
	"github.com/cowprotocol/auctioncore/pkg/domain"
	"github.com/cowprotocol/auctioncore/pkg/orderdigest"
	"github.com/cowprotocol/auctioncore/pkg/solution"
)

// BlockStream publishes the latest known block number. It follows
// watch-channel semantics: a slow consumer sees only the most recent
// value and may skip intermediate blocks, never every block in sequence.
type BlockStream struct {
	ch chan uint64
}

// NewBlockStream creates a single-slot latest-value stream.
func NewBlockStream() *BlockStream {
	return &BlockStream{ch: make(chan uint64, 1)}
}

// Publish makes blockNumber the latest value, discarding a previously
// published but not-yet-observed block number.
func (s *BlockStream) Publish(blockNumber uint64) {
	for {
		select {
		case s.ch <- blockNumber:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// C is the channel consumers range over.
func (s *BlockStream) C() <-chan uint64 {
	return s.ch
}

// Transaction is the subset of a mined transaction the observer needs.
type Transaction struct {
	Hash common.Hash
	To   *common.Address
	Data []byte
}

// TransactionFetcher fetches every transaction mined in a block.
type TransactionFetcher interface {
	BlockTransactions(ctx context.Context, blockNumber uint64) ([]Transaction, error)
}

// AuctionLookup resolves an auction id to the auction it was built from,
// so the observer can attach it to the Observation. A miss is expected
// after a restart, for an auction this process never built itself, and is
// tolerated rather than treated as an error.
type AuctionLookup interface {
	Lookup(auctionID uint64) (domain.Auction, bool)
}

// Observation is one settle() transaction the observer reconstructed.
type Observation struct {
	BlockNumber uint64
	TxHash      common.Hash
	Solution    solution.Solution
	Auction     domain.Auction
	AuctionKnown bool
}

// Handler processes a completed observation, e.g. persisting it and
// releasing the run loop's in-flight mark for the settled orders.
type Handler func(Observation)

// Observer watches a block stream for settle() transactions sent to the
// settlement contract.
type Observer struct {
	Blocks       *BlockStream
	Fetcher      TransactionFetcher
	Settlement   common.Address
	Auctions     AuctionLookup
	EIP712Domain orderdigest.Domain
	Log          *zap.SugaredLogger
	OnObservation Handler
}

// Run processes published block numbers until ctx is cancelled. A block
// whose transactions cannot be fetched is logged and skipped, not fatal:
// the next published block number picks back up, matching the block
// stream's may-skip-blocks contract.
func (o *Observer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case blockNumber, ok := <-o.Blocks.C():
			if !ok {
				return nil
			}
			if err := o.processBlock(ctx, blockNumber); err != nil {
				o.Log.Warnw("failed to process block for settlements", "block", blockNumber, "error", err)
			}
		}
	}
}

func (o *Observer) processBlock(ctx context.Context, blockNumber uint64) error {
	txs, err := o.Fetcher.BlockTransactions(ctx, blockNumber)
	if err != nil {
		return fmt.Errorf("settlementobserver: fetch block %d transactions: %w", blockNumber, err)
	}

	for _, tx := range txs {
		if tx.To == nil || *tx.To != o.Settlement {
			continue
		}
		if !calldata.IsSettleCalldata(tx.Data) {
			continue
		}

		sol, err := solution.Reconstruct(tx.Data, o.EIP712Domain)
		if err != nil {
			var decErr *calldata.DecodeError
			if errors.As(err, &decErr) {
				o.Log.Warnw("failed to reconstruct solution from settle transaction",
					"block", blockNumber, "tx", tx.Hash, "auction_id", decErr.AuctionID, "error", err)
			} else {
				o.Log.Warnw("failed to reconstruct solution from settle transaction",
					"block", blockNumber, "tx", tx.Hash, "error", err)
			}
			continue
		}

		a, known := o.Auctions.Lookup(sol.AuctionID())
		if !known {
			// Restart tolerance: a settlement for an auction id this
			// process never built (e.g. it restarted mid-cycle, or the
			// settlement was mined by a previous deployment) is expected,
			// not an error.
			o.Log.Warnw("observed settlement for unknown auction",
				"block", blockNumber, "tx", tx.Hash, "auction_id", sol.AuctionID())
		}

		if o.OnObservation != nil {
			o.OnObservation(Observation{
				BlockNumber:  blockNumber,
				TxHash:       tx.Hash,
				Solution:     sol,
				Auction:      a,
				AuctionKnown: known,
			})
		}
	}

	return nil
}

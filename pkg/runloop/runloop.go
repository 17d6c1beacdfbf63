// Package runloop drives the auction clearing cycle: build an auction from
// the order pool, dispatch it to solvers under a deadline, rank whatever
// comes back, and hand the winner off for on-chain submission.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/cowprotocol/auctioncore/pkg/auction"
	"github.com/cowprotocol/auctioncore/pkg/domain"
	"github.com/cowprotocol/auctioncore/pkg/ranking"
	"github.com/cowprotocol/auctioncore/pkg/solution"
	"github.com/cowprotocol/auctioncore/pkg/solverdispatch"
	"github.com/cowprotocol/auctioncore/pkg/trademath"
	"github.com/cowprotocol/auctioncore/pkg/util"
)

// State is the run loop's current phase, exposed for introspection and
// tests; it advances in a single direction per tick and always returns to
// Idle.
type State int

const (
	StateIdle State = iota
	StateHaveAuction
	StateAwaitingSolutions
	StateHaveRanking
	StateCommitting
	StateAwaitingSettlement
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHaveAuction:
		return "have_auction"
	case StateAwaitingSolutions:
		return "awaiting_solutions"
	case StateHaveRanking:
		return "have_ranking"
	case StateCommitting:
		return "committing"
	case StateAwaitingSettlement:
		return "awaiting_settlement"
	default:
		return "unknown"
	}
}

// AuctionBuilder assembles the next auction snapshot from whatever backs
// the order pool and native-price feed.
type AuctionBuilder interface {
	BuildAuction(ctx context.Context) (domain.Auction, error)
}

// Submitter hands a ranked winner off for on-chain settlement.
type Submitter interface {
	Submit(ctx context.Context, won domain.Auction, winner solverdispatch.Result) error
}

// Timers configures the run loop's cadence, mirroring how a consensus
// engine's tick and view-change timers are configured.
type Timers struct {
	TickInterval  time.Duration
	SolverDeadline time.Duration
}

// Loop drives auctions end to end on a fixed tick, skipping ticks with no
// solvable orders and never re-dispatching the auction id it attempted
// last.
type Loop struct {
	Pool       *auction.Pool
	Builder    AuctionBuilder
	Dispatcher *solverdispatch.Dispatcher
	Submitter  Submitter
	Clock      util.Clock
	Log        *zap.SugaredLogger
	Timers     Timers

	// OnRanking, if set, is called with every ranking round's outcome
	// (even when no candidate is eligible), so a caller can push
	// competition updates onto an introspection API.
	OnRanking func(auctionID int64, ranked ranking.Ranked)

	state                 State
	lastAttemptedAuction  int64
	haveLastAttempt       bool
}

// New builds a Loop. Clock defaults to util.RealClock when nil.
func New(pool *auction.Pool, builder AuctionBuilder, dispatcher *solverdispatch.Dispatcher, submitter Submitter, clock util.Clock, log *zap.SugaredLogger, timers Timers) *Loop {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Loop{
		Pool:       pool,
		Builder:    builder,
		Dispatcher: dispatcher,
		Submitter:  submitter,
		Clock:      clock,
		Log:        log,
		Timers:     timers,
		state:      StateIdle,
	}
}

// State reports the loop's current phase.
func (l *Loop) State() State {
	return l.state
}

// Run ticks forever until ctx is cancelled, running one clearing attempt
// per tick.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.Clock.After(l.Timers.TickInterval):
			if err := l.tick(ctx); err != nil {
				l.Log.Warnw("run loop tick failed", "error", err)
			}
		}
	}
}

// tick runs one full IDLE -> ... -> IDLE cycle. Errors are logged by the
// caller and never stop the loop: a failed tick just means the pool is
// tried again on the next one.
func (l *Loop) tick(ctx context.Context) error {
	defer func() { l.state = StateIdle }()

	l.state = StateHaveAuction
	a, err := l.Builder.BuildAuction(ctx)
	if err != nil {
		return fmt.Errorf("runloop: build auction: %w", err)
	}
	if len(a.Orders) == 0 {
		return nil
	}
	if l.haveLastAttempt && a.ID == l.lastAttemptedAuction {
		l.Log.Debugw("skipping auction already attempted", "auction_id", a.ID)
		return nil
	}

	l.state = StateAwaitingSolutions
	dispatchCtx, cancel := context.WithTimeout(ctx, l.Timers.SolverDeadline)
	defer cancel()

	results, err := l.Dispatcher.Dispatch(dispatchCtx, a)
	if err != nil {
		return fmt.Errorf("runloop: dispatch auction %d: %w", a.ID, err)
	}

	l.lastAttemptedAuction = a.ID
	l.haveLastAttempt = true

	l.state = StateHaveRanking
	ranked := ranking.Rank(toCandidates(a, results, l.Log))
	if l.OnRanking != nil {
		l.OnRanking(a.ID, ranked)
	}
	if ranked.Winner == nil {
		l.Log.Infow("no eligible solution for auction", "auction_id", a.ID, "solver_count", len(results))
		return nil
	}

	l.state = StateCommitting
	winner := findResult(results, ranked.Winner.SolverName)
	if winner == nil {
		return fmt.Errorf("runloop: ranked winner %s has no matching dispatch result", ranked.Winner.SolverName)
	}

	uids := orderUIDs(a)
	l.Pool.MarkInFlight(a.ID, uids)

	l.state = StateAwaitingSettlement
	if err := l.Submitter.Submit(ctx, a, *winner); err != nil {
		l.Pool.ReleaseInFlight(a.ID)
		return fmt.Errorf("runloop: submit auction %d winner %s: %w", a.ID, winner.Solver.Name, err)
	}

	l.Log.Infow("submitted winning solution", "auction_id", a.ID, "solver", winner.Solver.Name)
	return nil
}

func orderUIDs(a domain.Auction) []domain.OrderUID {
	uids := make([]domain.OrderUID, len(a.Orders))
	for i, o := range a.Orders {
		uids[i] = o.UID
	}
	return uids
}

func findResult(results []solverdispatch.Result, solverName string) *solverdispatch.Result {
	for i := range results {
		if results[i].Solver.Name == solverName {
			return &results[i]
		}
	}
	return nil
}

// toCandidates converts solved dispatch results into ranking candidates by
// reconstructing each solver's proposed trades against the auction's own
// orders and fee policies and computing the CIP-38 score itself: a
// solver's self-reported SolverScore is never trusted for ranking. A
// solution that cannot be reconstructed, or whose score is missing a
// native price for one of its tokens, is dropped rather than failing the
// whole tick.
func toCandidates(a domain.Auction, results []solverdispatch.Result, log *zap.SugaredLogger) []ranking.Candidate {
	policies := make(map[domain.OrderUID][]domain.FeePolicy, len(a.Orders))
	for _, o := range a.Orders {
		policies[o.UID] = o.FeePolicies
	}

	var out []ranking.Candidate
	for _, r := range results {
		if r.Outcome != solverdispatch.OutcomeSolved || r.Solution == nil {
			continue
		}

		proposed, err := parseProposedTrades(r.Solution.Trades)
		if err != nil {
			log.Warnw("dropping solution with malformed proposed trades",
				"auction_id", a.ID, "solver", r.Solver.Name, "error", err)
			continue
		}

		sol, err := solution.FromProposed(a, proposed, uint64(a.ID), policies)
		if err != nil {
			log.Warnw("dropping solution that could not be reconstructed against the auction",
				"auction_id", a.ID, "solver", r.Solver.Name, "error", err)
			continue
		}

		score, err := sol.Score(a, policies)
		if err != nil {
			var missing *trademath.ErrMissingPrice
			if errors.As(err, &missing) {
				log.Debugw("dropping solution missing a native price",
					"auction_id", a.ID, "solver", r.Solver.Name, "token", missing.Token)
			} else {
				log.Warnw("dropping solution that failed to score",
					"auction_id", a.ID, "solver", r.Solver.Name, "error", err)
			}
			continue
		}

		out = append(out, ranking.Candidate{
			SolverAddress: solverAddress(r.Solver.Name),
			SolutionHash:  solutionHash(r.Solution.Raw),
			SolverName:    r.Solver.Name,
			Score:         score,
		})
	}
	return out
}

func parseProposedTrades(trades []solverdispatch.ProposedTrade) ([]solution.ProposedTrade, error) {
	out := make([]solution.ProposedTrade, len(trades))
	for i, pt := range trades {
		uid, err := domain.ParseOrderUID(pt.OrderUID)
		if err != nil {
			return nil, fmt.Errorf("order uid: %w", err)
		}
		executed, err := parseUint256(pt.Executed)
		if err != nil {
			return nil, fmt.Errorf("executed amount: %w", err)
		}
		sellPrice, err := parseUint256(pt.SellPrice)
		if err != nil {
			return nil, fmt.Errorf("sell price: %w", err)
		}
		buyPrice, err := parseUint256(pt.BuyPrice)
		if err != nil {
			return nil, fmt.Errorf("buy price: %w", err)
		}
		out[i] = solution.ProposedTrade{OrderUID: uid, Executed: executed, SellPrice: sellPrice, BuyPrice: buyPrice}
	}
	return out, nil
}

func parseUint256(s string) (*uint256.Int, error) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", s, err)
	}
	return u, nil
}

// solverAddress and solutionHash exist purely to give ranking's tie-break
// stable inputs when a solver config doesn't carry an on-chain address;
// real deployments key solvers by their registered settlement address
// instead.
func solverAddress(name string) common.Address {
	var a common.Address
	copy(a[:], name)
	return a
}

func solutionHash(raw []byte) common.Hash {
	var h common.Hash
	copy(h[:], raw)
	return h
}

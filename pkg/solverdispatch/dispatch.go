// Package solverdispatch fans an auction out to every configured solver
// endpoint under a shared deadline, collects whichever solutions arrive in
// time, and classifies the rest as empty, timed out, or errored.
package solverdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// Outcome classifies what a single solver produced for one dispatch round.
type Outcome int

const (
	OutcomeSolved Outcome = iota
	OutcomeEmpty
	OutcomeTimeout
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Solver is one configured solver endpoint.
type Solver struct {
	Name     string
	Endpoint string
}

// Solution is a solver's proposed settlement for the auction. Raw is the
// full response body, forwarded to the winning solver's submission path
// unparsed; Trades is parsed out of it so autopilot can recompute the
// CIP-38 score itself instead of trusting the solver's self-reported one.
type Solution struct {
	SolverName string
	Raw        json.RawMessage
	Trades     []ProposedTrade
	Score      *SolverScore
}

// ProposedTrade is one trade a solver's solution settles: a reference to
// an order already admitted to the auction (by UID) plus the uniform
// clearing prices the solver proposes for that trade's tokens. Amounts
// and prices are decimal uint256 strings, matching the settlement
// contract's own wire representation.
type ProposedTrade struct {
	OrderUID  string `json:"order_uid"`
	Executed  string `json:"executed"`
	SellPrice string `json:"sell_price"`
	BuyPrice  string `json:"buy_price"`
}

// SolverScore is the self-reported score a solver includes with its
// solution. It is kept on the Solution as a hint but never used for ranking: §6 of the
// auction protocol requires the core, not the solver, to compute the
// authoritative score from Trades.
type SolverScore struct {
	Value string `json:"score"`
}

// solutionWire is the JSON shape a solver actually posts; Solution.Raw
// keeps the whole body so it can be forwarded to an on-chain submission
// path untouched, while solutionWire's fields drive the core's own
// scoring.
type solutionWire struct {
	Trades []ProposedTrade `json:"trades"`
	Score  *SolverScore    `json:"score"`
}

// Result is one solver's outcome for a dispatch round.
type Result struct {
	Solver   Solver
	Outcome  Outcome
	Solution *Solution
	Err      error
	Duration time.Duration
}

// HTTPClient is the subset of *http.Client dispatch needs, so tests can
// substitute a fake transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher fans an auction out to every configured solver under a
// shared deadline.
type Dispatcher struct {
	client  HTTPClient
	log     *zap.SugaredLogger
	solvers []Solver

	// dedup collapses concurrent dispatch rounds for the same auction id
	// into a single in-flight fan-out, so a slow solver round overlapping
	// the next tick doesn't double up outbound requests.
	dedup singleflight.Group
}

// New builds a Dispatcher over the given solver list.
func New(client HTTPClient, log *zap.SugaredLogger, solvers []Solver) *Dispatcher {
	return &Dispatcher{client: client, log: log, solvers: solvers}
}

// Dispatch sends auction to every solver and waits until ctx's deadline
// (or cancellation) for responses, returning one Result per solver
// regardless of whether it answered in time.
func (d *Dispatcher) Dispatch(ctx context.Context, auction domain.Auction) ([]Result, error) {
	key := fmt.Sprintf("%d", auction.ID)
	v, err, _ := d.dedup.Do(key, func() (interface{}, error) {
		return d.dispatchOnce(ctx, auction)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Result), nil
}

func (d *Dispatcher) dispatchOnce(ctx context.Context, auction domain.Auction) ([]Result, error) {
	body, err := json.Marshal(auctionRequest{AuctionID: auction.ID, OrderCount: len(auction.Orders)})
	if err != nil {
		return nil, fmt.Errorf("solverdispatch: marshal auction request: %w", err)
	}

	results := make([]Result, len(d.solvers))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, solver := range d.solvers {
		i, solver := i, solver
		group.Go(func() error {
			results[i] = d.callSolver(groupCtx, solver, body)
			return nil
		})
	}

	// errgroup.Wait only returns an error if a Go func itself returned one;
	// callSolver never does, it records failures per-result instead, so
	// every solver gets a Result even when the shared context expires.
	_ = group.Wait()

	for _, r := range results {
		d.log.Debugw("solver dispatch result",
			"auction_id", auction.ID,
			"solver", r.Solver.Name,
			"outcome", r.Outcome.String(),
			"duration", r.Duration,
		)
	}

	return results, nil
}

type auctionRequest struct {
	AuctionID  int64 `json:"auction_id"`
	OrderCount int   `json:"order_count"`
}

func (d *Dispatcher) callSolver(ctx context.Context, solver Solver, body []byte) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, solver.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Solver: solver, Outcome: OutcomeError, Err: err, Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Solver: solver, Outcome: OutcomeTimeout, Err: err, Duration: time.Since(start)}
		}
		return Result{Solver: solver, Outcome: OutcomeError, Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return Result{Solver: solver, Outcome: OutcomeEmpty, Duration: time.Since(start)}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{
			Solver:   solver,
			Outcome:  OutcomeError,
			Err:      fmt.Errorf("solverdispatch: solver %s returned status %d", solver.Name, resp.StatusCode),
			Duration: time.Since(start),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Solver: solver, Outcome: OutcomeError, Err: err, Duration: time.Since(start)}
	}

	var wire solutionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Result{Solver: solver, Outcome: OutcomeError, Err: err, Duration: time.Since(start)}
	}

	sol := Solution{
		SolverName: solver.Name,
		Raw:        json.RawMessage(raw),
		Trades:     wire.Trades,
		Score:      wire.Score,
	}

	return Result{Solver: solver, Outcome: OutcomeSolved, Solution: &sol, Duration: time.Since(start)}
}

// Command autopilot runs the batch-auction clearing loop: it pools
// solvable orders, ticks the run loop to dispatch them to solvers, ranks
// what comes back, hands the winner off for submission, and serves an
// introspection API over the whole cycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cowprotocol/auctioncore/params"
	"github.com/cowprotocol/auctioncore/pkg/api"
	"github.com/cowprotocol/auctioncore/pkg/auction"
	"github.com/cowprotocol/auctioncore/pkg/domain"
	"github.com/cowprotocol/auctioncore/pkg/runloop"
	"github.com/cowprotocol/auctioncore/pkg/solverdispatch"
	"github.com/cowprotocol/auctioncore/pkg/storage"
	"github.com/cowprotocol/auctioncore/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/autopilot.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		fmt.Printf("logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/autopilot.db"
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	pool := auction.NewPool(1)
	builder := auction.NewBuilder(pool, nil, nil)

	var solvers []solverdispatch.Solver
	for i, endpoint := range cfg.Solvers.Endpoints {
		solvers = append(solvers, solverdispatch.Solver{Name: fmt.Sprintf("solver-%d", i), Endpoint: endpoint})
	}
	dispatcher := solverdispatch.New(&http.Client{Timeout: cfg.RunLoop.SolverDeadline}, sugar, solvers)

	apiServer := api.NewServer(pool, store, solvers, sugar)

	sub := &recordingSubmitter{store: store, log: sugar}

	loop := runloop.New(pool, builder, dispatcher, sub, util.RealClock{}, sugar, runloop.Timers{
		TickInterval:   cfg.RunLoop.TickInterval,
		SolverDeadline: cfg.RunLoop.SolverDeadline,
	})
	loop.OnRanking = apiServer.ReportCompetition

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = ":8080"
	}
	go func() {
		sugar.Infow("api_server_starting", "addr", apiAddr)
		if err := apiServer.Start(apiAddr); err != nil && ctx.Err() == nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// TODO: wire a TransactionFetcher backed by an ethclient once a chain
	// RPC endpoint is configured; until then settlement observation is not
	// started, and the run loop's in-flight orders are only ever released
	// by submission failure, never by a confirmed settlement.

	sugar.Infow("autopilot_starting",
		"tick_interval", cfg.RunLoop.TickInterval,
		"solver_deadline", cfg.RunLoop.SolverDeadline,
		"solver_count", len(solvers),
		"chain_id", cfg.Chain.ChainID,
		"settlement_contract", cfg.Chain.SettlementContract)

	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("run_loop_failed", "err", err)
		}
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sugar.Infow("autopilot_progress", "state", loop.State().String())
		}
	}
}

// recordingSubmitter persists the winning solver's name against the
// auction id and logs the outcome. Actually broadcasting the settle()
// transaction to the chain (or a solver-operated relay) is an external
// collaborator this core does not implement; see spec §1's scope cut.
type recordingSubmitter struct {
	store *storage.Store
	log   *zap.SugaredLogger
}

func (s *recordingSubmitter) Submit(ctx context.Context, won domain.Auction, winner solverdispatch.Result) error {
	if err := s.store.SaveAuction(won); err != nil {
		return fmt.Errorf("autopilot: persist auction %d: %w", won.ID, err)
	}
	if err := s.store.SaveWinner(won.ID, winner.Solver.Name); err != nil {
		return fmt.Errorf("autopilot: persist winner for auction %d: %w", won.ID, err)
	}
	s.log.Infow("recorded winning solution", "auction_id", won.ID, "solver", winner.Solver.Name)
	return nil
}

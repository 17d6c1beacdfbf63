// Package api exposes an HTTP and WebSocket introspection surface over
// the clearing pipeline: the pool of solvable orders, the most recent
// competition result, configured solvers, and observed settlements.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/cowprotocol/auctioncore/pkg/auction"
	"github.com/cowprotocol/auctioncore/pkg/ranking"
	"github.com/cowprotocol/auctioncore/pkg/solverdispatch"
	"github.com/cowprotocol/auctioncore/pkg/storage"
)

// Server serves the REST and WebSocket introspection API.
type Server struct {
	pool    *auction.Pool
	store   *storage.Store
	solvers []solverdispatch.Solver
	log     *zap.SugaredLogger
	router  *mux.Router
	hub     *Hub

	mu         sync.RWMutex
	lastResult CompetitionSnapshot
	haveResult bool
}

// NewServer builds a Server over the shared pool, store and solver list.
func NewServer(pool *auction.Pool, store *storage.Store, solvers []solverdispatch.Solver, log *zap.SugaredLogger) *Server {
	s := &Server{
		pool:    pool,
		store:   store,
		solvers: solvers,
		log:     log,
		router:  mux.NewRouter(),
		hub:     newHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auction/current", s.handleCurrentAuction).Methods(http.MethodGet)
	api.HandleFunc("/auction/{id}", s.handleAuction).Methods(http.MethodGet)
	api.HandleFunc("/auction/{id}/settlement", s.handleSettlement).Methods(http.MethodGet)
	api.HandleFunc("/competition/latest", s.handleLatestCompetition).Methods(http.MethodGet)
	api.HandleFunc("/solvers", s.handleSolvers).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Start runs the HTTP server until it errors or the process is killed.
func (s *Server) Start(addr string) error {
	go s.hub.run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Infow("api server starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ReportCompetition records the outcome of a ranking round so the REST
// endpoint and WebSocket subscribers can observe it. Called by the run
// loop after every ranking round, including one with no candidates.
func (s *Server) ReportCompetition(auctionID int64, ranked ranking.Ranked) {
	snap := CompetitionSnapshot{
		AuctionID: auctionID,
		Ranked:    toCandidateInfos(ranked.Ranked),
		Rejected:  toCandidateInfos(ranked.Rejected),
	}
	if ranked.Winner != nil {
		winner := toCandidateInfo(*ranked.Winner)
		snap.Winner = &winner
	}

	s.mu.Lock()
	s.lastResult = snap
	s.haveResult = true
	s.mu.Unlock()

	s.hub.broadcast(WSMessage{Type: "competition", Data: snap})
}

func toCandidateInfos(cs []ranking.Candidate) []CandidateInfo {
	out := make([]CandidateInfo, len(cs))
	for i, c := range cs {
		out[i] = toCandidateInfo(c)
	}
	return out
}

func toCandidateInfo(c ranking.Candidate) CandidateInfo {
	score := ""
	if c.Score != nil {
		score = c.Score.String()
	}
	return CandidateInfo{
		SolverName:    c.SolverName,
		SolverAddress: c.SolverAddress.Hex(),
		SolutionHash:  c.SolutionHash.Hex(),
		Score:         score,
	}
}

func (s *Server) handleCurrentAuction(w http.ResponseWriter, r *http.Request) {
	orders := s.pool.Snapshot()
	summaries := make([]OrderSummary, len(orders))
	for i, o := range orders {
		summaries[i] = OrderSummary{
			UID:        o.UID.String(),
			Sell:       o.Sell.Hex(),
			Buy:        o.Buy.Hex(),
			SellAmount: o.SellAmount.String(),
			BuyAmount:  o.BuyAmount.String(),
			Side:       o.Side.String(),
		}
	}
	respondJSON(w, AuctionSnapshot{Orders: summaries})
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUintVar(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid auction id", "")
		return
	}

	a, ok := s.store.Auction(id)
	if !ok {
		respondError(w, http.StatusNotFound, "auction not found", "")
		return
	}

	summaries := make([]OrderSummary, len(a.Orders))
	for i, o := range a.Orders {
		summaries[i] = OrderSummary{
			UID:        o.UID.String(),
			Sell:       o.Sell.Hex(),
			Buy:        o.Buy.Hex(),
			SellAmount: o.SellAmount.String(),
			BuyAmount:  o.BuyAmount.String(),
			Side:       o.Side.String(),
		}
	}
	respondJSON(w, AuctionSnapshot{AuctionID: a.ID, Orders: summaries})
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUintVar(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid auction id", "")
		return
	}

	rec, ok := s.store.Settlement(id)
	if !ok {
		respondError(w, http.StatusNotFound, "settlement not observed", "")
		return
	}
	respondJSON(w, SettlementInfo{
		AuctionID:   rec.AuctionID,
		BlockNumber: rec.BlockNumber,
		TradeCount:  rec.TradeCount,
	})
}

func (s *Server) handleLatestCompetition(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap, ok := s.lastResult, s.haveResult
	s.mu.RUnlock()

	if !ok {
		respondError(w, http.StatusNotFound, "no competition round has completed yet", "")
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleSolvers(w http.ResponseWriter, r *http.Request) {
	infos := make([]SolverInfo, len(s.solvers))
	for i, sv := range s.solvers {
		infos[i] = SolverInfo{Name: sv.Name, Endpoint: sv.Endpoint}
	}
	respondJSON(w, infos)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func parseUintVar(r *http.Request, name string) (uint64, bool) {
	v := mux.Vars(r)[name]
	id, err := strconv.ParseUint(v, 10, 64)
	return id, err == nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}

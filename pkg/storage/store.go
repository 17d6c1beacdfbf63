// Package storage persists the competition record (which auction a
// solver's solution won) and settlement observations in Pebble, keyed by
// auction id, so a restarted process can look up auctions it built before
// the restart and tolerate settlements for ones it didn't.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// Store persists auction snapshots and competition results.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a Pebble store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// key prefixes: a:<8-byte-id> auction snapshot, w:<8-byte-id> winning
// solver name, s:<8-byte-id> settlement observation summary.
func auctionKey(id int64) []byte     { return append([]byte("a:"), idBytes(uint64(id))...) }
func winnerKey(id int64) []byte      { return append([]byte("w:"), idBytes(uint64(id))...) }
func settlementKey(id uint64) []byte { return append([]byte("s:"), idBytes(id)...) }

func idBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// SaveAuction persists the auction snapshot a run loop tick built, so it
// can be looked up later by the settlement observer.
func (s *Store) SaveAuction(a domain.Auction) error {
	data, err := json.Marshal(auctionRecord{
		ID:     a.ID,
		Orders: a.Orders,
	})
	if err != nil {
		return fmt.Errorf("storage: marshal auction %d: %w", a.ID, err)
	}
	if err := s.db.Set(auctionKey(a.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save auction %d: %w", a.ID, err)
	}
	return nil
}

// auctionRecord is the JSON-on-disk shape of a persisted auction. Prices
// and surplus-capturing UIDs are not persisted, so a loaded auction
// carries neither.
type auctionRecord struct {
	ID     int64          `json:"id"`
	Orders []domain.Order `json:"orders"`
}

// Auction loads a previously saved auction by id. The second return value
// is false if no record exists (e.g. after a restart, for an auction
// built by a prior process instance, or one this process never built).
func (s *Store) Auction(id uint64) (domain.Auction, bool) {
	val, closer, err := s.db.Get(auctionKey(int64(id)))
	if err != nil {
		return domain.Auction{}, false
	}
	defer closer.Close()

	var rec auctionRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return domain.Auction{}, false
	}
	return domain.Auction{ID: rec.ID, Orders: rec.Orders}, true
}

// Lookup implements settlementobserver.AuctionLookup.
func (s *Store) Lookup(auctionID uint64) (domain.Auction, bool) {
	return s.Auction(auctionID)
}

// SaveWinner records which solver won an auction, for the introspection
// API's competition history.
func (s *Store) SaveWinner(auctionID int64, solverName string) error {
	if err := s.db.Set(winnerKey(auctionID), []byte(solverName), pebble.Sync); err != nil {
		return fmt.Errorf("storage: save winner for auction %d: %w", auctionID, err)
	}
	return nil
}

// Winner returns the solver name that won an auction, if recorded.
func (s *Store) Winner(auctionID int64) (string, bool) {
	val, closer, err := s.db.Get(winnerKey(auctionID))
	if err != nil {
		return "", false
	}
	defer closer.Close()
	return string(val), true
}

// SettlementRecord summarizes a mined settlement for the competition
// history: which block and transaction it appeared in.
type SettlementRecord struct {
	AuctionID   uint64   `json:"auction_id"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      common32 `json:"tx_hash"`
	TradeCount  int      `json:"trade_count"`
}

type common32 = [32]byte

// SaveSettlement persists a settlement observation summary.
func (s *Store) SaveSettlement(rec SettlementRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: marshal settlement for auction %d: %w", rec.AuctionID, err)
	}
	if err := s.db.Set(settlementKey(rec.AuctionID), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save settlement for auction %d: %w", rec.AuctionID, err)
	}
	return nil
}

// Settlement returns the settlement observation recorded for an auction,
// if any.
func (s *Store) Settlement(auctionID uint64) (SettlementRecord, bool) {
	val, closer, err := s.db.Get(settlementKey(auctionID))
	if err != nil {
		return SettlementRecord{}, false
	}
	defer closer.Close()

	var rec SettlementRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return SettlementRecord{}, false
	}
	return rec, true
}

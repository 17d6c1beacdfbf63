// Package auction maintains the pool of orders eligible for the next
// auction and hands out sequential auction ids.
package auction

import (
	"sync"
	"sync/atomic"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// Pool holds every order currently admitted from the orderbook, in FIFO
// admission order, along with the set of orders still awaiting settlement
// from a previous auction (in-flight orders), which must be excluded from
// the next auction to avoid double-solving them.
type Pool struct {
	mu       sync.Mutex
	order    []domain.OrderUID
	byUID    map[domain.OrderUID]domain.Order
	inFlight map[domain.OrderUID]int64 // uid -> id of the auction it was last handed out in

	nextAuctionID int64
}

// NewPool builds an empty order pool. firstAuctionID is the id the first
// auction built from this pool will carry.
func NewPool(firstAuctionID int64) *Pool {
	return &Pool{
		byUID:         make(map[domain.OrderUID]domain.Order),
		inFlight:      make(map[domain.OrderUID]int64),
		nextAuctionID: firstAuctionID,
	}
}

// Upsert admits or updates an order. A new UID is appended to the FIFO
// admission order; an existing UID keeps its original position.
func (p *Pool) Upsert(order domain.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byUID[order.UID]; !exists {
		p.order = append(p.order, order.UID)
	}
	p.byUID[order.UID] = order
}

// Remove drops an order from the pool, e.g. once it is fully executed,
// cancelled, or expired.
func (p *Pool) Remove(uid domain.OrderUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byUID[uid]; !exists {
		return
	}
	delete(p.byUID, uid)
	delete(p.inFlight, uid)
	for i, u := range p.order {
		if u == uid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the pool's orders in FIFO admission order, excluding
// any order currently in flight in a prior, not-yet-settled auction.
func (p *Pool) Snapshot() []domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Order, 0, len(p.order))
	for _, uid := range p.order {
		if _, inFlight := p.inFlight[uid]; inFlight {
			continue
		}
		out = append(out, p.byUID[uid])
	}
	return out
}

// NextAuctionID atomically allocates and returns the next auction id.
func (p *Pool) NextAuctionID() int64 {
	return atomic.AddInt64(&p.nextAuctionID, 1) - 1
}

// MarkInFlight records that the given orders were just handed out as part
// of auctionID, so they are excluded from subsequent snapshots until
// released by ReleaseInFlight (the run loop calls it when submitting the
// winner fails) or removed by Remove.
func (p *Pool) MarkInFlight(auctionID int64, uids []domain.OrderUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, uid := range uids {
		p.inFlight[uid] = auctionID
	}
}

// ReleaseInFlight clears the in-flight mark for every order tagged with
// auctionID, making them eligible for the next auction again.
func (p *Pool) ReleaseInFlight(auctionID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for uid, inFlightFor := range p.inFlight {
		if inFlightFor == auctionID {
			delete(p.inFlight, uid)
		}
	}
}

// InFlightAuctionID reports which auction, if any, currently holds uid in
// flight.
func (p *Pool) InFlightAuctionID(uid domain.OrderUID) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.inFlight[uid]
	return id, ok
}

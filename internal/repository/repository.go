package repository

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
)

// AuctionStore persists auction records.
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	// UpdateAuction replaces the stored record only if its version is
	// auction.Version-1, otherwise it fails with ErrConflict.
	UpdateAuction(ctx context.Context, auction model.Auction) error
	// ListActiveAuctions returns auctions the scheduler still has work for:
	// pending, live, and ended-with-winner awaiting settlement.
	ListActiveAuctions(ctx context.Context) ([]model.Auction, error)
}

// BidLedger is the append-only record of bids per auction.
type BidLedger interface {
	// AppendBid stores bid and the auction snapshot produced by accepting it
	// in one step. It fails with ErrConflict when the stored auction is not
	// at version updated.Version-1 or bid does not beat the stored high bid.
	AppendBid(ctx context.Context, bid model.Bid, updated model.Auction) (uint64, error)
	HighestBid(ctx context.Context, auctionID string) (model.Bid, error)
	// History yields bids in placement order. Each range re-reads the ledger.
	History(ctx context.Context, auctionID string) iter.Seq2[model.Bid, error]
	AuctionsByBidder(ctx context.Context, bidderID string) ([]string, error)
}

// AuctionDB defines the storage interface for the auction engine
type AuctionDB interface {
	AuctionStore
	BidLedger
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu           sync.RWMutex
	auctions     map[string]model.Auction // key: auctionID -> value: auction
	bids         map[string][]model.Bid   // key: auctionID -> value: bids in seq order
	userAuctions map[string][]string      // key: bidderID -> value: auctionIDs the bidder has bid on
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:     make(map[string]model.Auction),
		bids:         make(map[string][]model.Bid),
		userAuctions: make(map[string][]string),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.ID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrAuctionExists)
	}
	r.auctions[auction.ID] = auction
	return nil
}

// GetAuction returns the current snapshot of an auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// UpdateAuction applies a versioned update to an auction
func (r *MemoryRepo) UpdateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.auctions[auction.ID]
	if !ok {
		return fmt.Errorf("update auction %s: %w", auction.ID, biddingerrors.ErrAuctionNotFound)
	}
	if stored.Version+1 != auction.Version {
		return fmt.Errorf("update auction %s at version %d: %w", auction.ID, stored.Version, biddingerrors.ErrConflict)
	}
	r.auctions[auction.ID] = auction
	return nil
}

// ListActiveAuctions returns auctions that still need scheduler attention
func (r *MemoryRepo) ListActiveAuctions(_ context.Context) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]model.Auction, 0)
	for _, a := range r.auctions {
		if !a.Status.Terminal() || a.AwaitingSettlement() {
			active = append(active, a)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// AppendBid records a bid together with the auction state it produced
func (r *MemoryRepo) AppendBid(_ context.Context, bid model.Bid, updated model.Auction) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.auctions[bid.AuctionID]
	if !ok {
		return 0, fmt.Errorf("append bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if updated.ID != bid.AuctionID || stored.Version+1 != updated.Version {
		return 0, fmt.Errorf("append bid for auction %s at version %d: %w", bid.AuctionID, stored.Version, biddingerrors.ErrConflict)
	}

	existing := r.bids[bid.AuctionID]
	if n := len(existing); n > 0 && !bid.Amount.GreaterThan(existing[n-1].Amount) {
		return 0, fmt.Errorf("append bid for auction %s: amount %s does not beat %s: %w",
			bid.AuctionID, bid.Amount, existing[n-1].Amount, biddingerrors.ErrConflict)
	}

	bid.Seq = uint64(len(existing) + 1)
	r.bids[bid.AuctionID] = append(existing, bid)
	r.auctions[bid.AuctionID] = updated

	for _, id := range r.userAuctions[bid.BidderID] {
		if id == bid.AuctionID {
			return bid.Seq, nil
		}
	}
	r.userAuctions[bid.BidderID] = append(r.userAuctions[bid.BidderID], bid.AuctionID)

	return bid.Seq, nil
}

// HighestBid returns the leading bid for an auction
func (r *MemoryRepo) HighestBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	// amounts are strictly increasing, so the last bid leads
	return bids[len(bids)-1], nil
}

// History yields the bids of an auction in placement order
func (r *MemoryRepo) History(_ context.Context, auctionID string) iter.Seq2[model.Bid, error] {
	return func(yield func(model.Bid, error) bool) {
		r.mu.RLock()
		_, ok := r.auctions[auctionID]
		bids := append([]model.Bid(nil), r.bids[auctionID]...)
		r.mu.RUnlock()

		if !ok {
			yield(model.Bid{}, fmt.Errorf("history for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound))
			return
		}
		for _, b := range bids {
			if !yield(b, nil) {
				return
			}
		}
	}
}

// AuctionsByBidder returns the IDs of all auctions a bidder has bid on
func (r *MemoryRepo) AuctionsByBidder(_ context.Context, bidderID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.userAuctions[bidderID]
	if !ok || len(ids) == 0 {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, biddingerrors.ErrBidderNoBids)
	}
	return append([]string(nil), ids...), nil
}

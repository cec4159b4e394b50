package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLive, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusLive || next == StatusCancelled
	case StatusLive:
		return next == StatusEnded || next == StatusCancelled
	}
	return false
}

// Listing is the item an auction sells. Owned by the catalog; read only here.
type Listing struct {
	ListingID     string          `json:"listing_id"`
	SellerID      string          `json:"seller_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"starting_price"`
}

// Auction is the authoritative state of a single auction.
type Auction struct {
	ID              string          `json:"auction_id"`
	ListingID       string          `json:"listing_id"`
	SellerID        string          `json:"seller_id"`
	StartAt         time.Time       `json:"start_at"`
	EndAt           time.Time       `json:"end_at"`
	MinBid          decimal.Decimal `json:"min_bid"`
	BidIncrement    decimal.Decimal `json:"bid_increment"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	CurrentBidderID string          `json:"current_bidder_id,omitempty"`
	BidCount        int             `json:"bid_count"`
	Status          Status          `json:"status"`
	Version         uint64          `json:"version"`
	Settled         bool            `json:"settled"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasBids reports whether at least one bid was accepted.
func (a Auction) HasBids() bool {
	return a.BidCount > 0
}

// AcceptsBidsAt reports whether t falls inside the live window [StartAt, EndAt).
func (a Auction) AcceptsBidsAt(t time.Time) bool {
	return !t.Before(a.StartAt) && t.Before(a.EndAt)
}

// AwaitingSettlement reports whether the auction ended with a winner whose
// settlement has not been confirmed yet.
func (a Auction) AwaitingSettlement() bool {
	return a.Status == StatusEnded && a.HasBids() && !a.Settled
}

// Bid is an immutable ledger entry.
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
	Seq       uint64          `json:"seq"`
}

var (
	errBidMissingIDs = errors.New("bid requires auction and bidder ids")
	errBidAmount     = errors.New("bid amount must be positive")
)

// NewBid builds a bid, rejecting blank identities and non-positive amounts.
func NewBid(bidID, auctionID, bidderID string, amount decimal.Decimal, placedAt time.Time) (Bid, error) {
	if strings.TrimSpace(auctionID) == "" || strings.TrimSpace(bidderID) == "" {
		return Bid{}, errBidMissingIDs
	}
	if !amount.IsPositive() {
		return Bid{}, errBidAmount
	}
	return Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  placedAt.UTC(),
	}, nil
}
